package crash

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

type recordingMQ struct {
	queues []string
	bodies [][]byte
}

func (r *recordingMQ) Publish(_ context.Context, queue string, body []byte) error {
	r.queues = append(r.queues, queue)
	r.bodies = append(r.bodies, body)
	return nil
}

func TestMQSinkPublishesOneNotificationPerCrash(t *testing.T) {
	if NewMQSink(nil, zap.NewNop()) != nil {
		t.Fatalf("sink must be disabled without rabbitmq")
	}
	if NotificationQueue() != CrashQueueName {
		t.Fatalf("notification queue = %q", NotificationQueue())
	}

	r := &recordingMQ{}
	sink := NewMQSink(r, zap.NewNop())
	records := []Record{
		{SessionID: "s1", Target: "t", Path: "a.crash", Desc: "SEGV", Info: Info{Hash: "h1", Severity: SeverityHigh, Exploitability: ExploitabilityProbable}},
		{SessionID: "s1", Target: "t", Desc: "abort", Info: Info{Hash: "h2", Severity: SeverityLow, Exploitability: ExploitabilityNone}},
	}
	if err := sink.Store(context.Background(), records); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if len(r.bodies) != 2 {
		t.Fatalf("published %d notifications, want 2", len(r.bodies))
	}
	for i, q := range r.queues {
		if q != CrashQueueName {
			t.Errorf("notification %d went to %q", i, q)
		}
	}
	var n CrashNotification
	if err := json.Unmarshal(r.bodies[0], &n); err != nil {
		t.Fatal(err)
	}
	if n.Hash != "h1" || n.Severity != "high" || n.Exploitability != "probable" || n.Path != "a.crash" {
		t.Errorf("notification = %+v", n)
	}
}
