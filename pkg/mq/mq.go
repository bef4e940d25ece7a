package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xb-s/fuzzer/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Queue names a durable queue every pooled connection declares when it opens
type Queue string

type RabbitMQ interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// publisher is one pooled connection with the channel it publishes on
type publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	done    chan struct{} // closed once the connection or its channel is gone

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
}

func (p *publisher) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

type pool struct {
	logger *zap.Logger
	url    string
	size   int
	queues []string
	ctx    context.Context

	dial func(url string) (*amqp.Connection, error)

	mu      sync.Mutex
	members []*publisher
	next    int
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
	Queues    []Queue `group:"mq_queues"`
}

// NewRabbitMQ returns nil when RABBITMQ_URL is unset; crash notifications are then not published
func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	if p.Config.RabbitMQURL == "" {
		p.Logger.Info("RABBITMQ_URL not set, crash notifications disabled")
		return nil
	}
	mqCtx, cancel := context.WithCancel(context.Background())
	pl := newPool(mqCtx, p.Logger.Named("rabbitmq"), p.Config.RabbitMQURL, p.Config.RabbitMQPoolSize, p.Queues)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pl.logger.Debug("Initializing RabbitMQ connection pool",
				zap.Int("pool_size", pl.size),
				zap.Strings("queues", pl.queues))
			return pl.fill()
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return pl
}

func newPool(ctx context.Context, logger *zap.Logger, url string, size int, queues []Queue) *pool {
	if size < 1 {
		size = 1
	}
	names := make([]string, 0, len(queues))
	seen := make(map[string]bool, len(queues))
	for _, q := range queues {
		if q == "" || seen[string(q)] {
			continue
		}
		seen[string(q)] = true
		names = append(names, string(q))
	}
	return &pool{
		logger:  logger,
		url:     url,
		size:    size,
		queues:  names,
		ctx:     ctx,
		dial:    amqp.Dial,
		members: make([]*publisher, 0, size),
	}
}

// fill drops dead connections and dials until the pool is full again.
// It only fails when no connection at all is left.
func (r *pool) fill() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.members[:0]
	for _, m := range r.members {
		if m.alive() {
			live = append(live, m)
		}
	}
	r.members = live

	var errs []error
	if missing := r.size - len(r.members); missing > 0 {
		r.logger.Debug("Refilling RabbitMQ connection pool", zap.Int("needed", missing))
		for range missing {
			m, err := r.open()
			if err != nil {
				r.logger.Error("Failed to open RabbitMQ connection", zap.Error(err))
				errs = append(errs, err)
				break
			}
			r.members = append(r.members, m)
		}
	}

	if len(r.members) == 0 {
		return fmt.Errorf("no active RabbitMQ connections: %w", errors.Join(errs...))
	}
	return nil
}

// open dials a connection, opens its publishing channel and declares every registered queue on it
func (r *pool) open() (*publisher, error) {
	conn, err := r.dial(r.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	for _, q := range r.queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}

	m := &publisher{conn: conn, channel: ch, done: make(chan struct{})}
	go r.monitor(m)
	return m, nil
}

// monitor blocks until the connection or its channel closes, or the pool shuts down
func (r *pool) monitor(m *publisher) {
	connClosed := m.conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := m.channel.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err := <-connClosed:
		r.logger.Error("RabbitMQ connection closed", zap.Error(err))
	case err := <-chanClosed:
		r.logger.Error("RabbitMQ channel closed", zap.Error(err))
	case <-r.ctx.Done():
	}
	close(m.done)
	m.conn.Close()
}

// pick returns the next live connection in round-robin order
func (r *pool) pick() (*publisher, error) {
	if err := r.fill(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) == 0 {
		return nil, errors.New("no active RabbitMQ connections")
	}
	m := r.members[r.next%len(r.members)]
	r.next++
	return m, nil
}

// Publish sends body persistently to queue through the default exchange
func (r *pool) Publish(ctx context.Context, queue string, body []byte) error {
	m, err := r.pick()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}
