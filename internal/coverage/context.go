package coverage

import "context"

type trackerKey struct{}

// WithTracker attaches a tracker that the target can record blocks into
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the tracker attached to ctx, or nil
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
