package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultThrottleWindow = time.Minute

// Event describes something worth telling the user about.
type Event struct {
	UserID   string
	JobID    string
	Kind     Kind
	Locale   string
	AppName  string
	Detail   string
	Category string
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Notifier       Notifier
	Logger         *slog.Logger
	ThrottleWindow time.Duration
	Now            func() time.Time
}

// Dispatcher renders events and hands them to a notifier. Network unstable
// notices are limited to one per job per throttle window.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	window   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewDispatcher creates a Dispatcher with defaults applied.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		notifier: opts.Notifier,
		logger:   opts.Logger,
		window:   opts.ThrottleWindow,
		now:      opts.Now,
		lastSent: make(map[string]time.Time),
	}
	if d.notifier == nil {
		d.notifier = Multi{}
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.window <= 0 {
		d.window = defaultThrottleWindow
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Emit renders and delivers e. Delivery errors are logged, never returned.
func (d *Dispatcher) Emit(ctx context.Context, e Event) {
	now := d.now()
	if e.Kind == KindNetworkUnstable && !d.allow(e.JobID, now) {
		d.logger.Debug("Network notice throttled", slog.String("job_id", e.JobID))
		return
	}

	n := Notification{
		ID:        uuid.NewString(),
		UserID:    e.UserID,
		JobID:     e.JobID,
		Kind:      e.Kind,
		Level:     levelOf(e.Kind),
		Message:   render(e),
		Category:  e.Category,
		CreatedAt: now,
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Warn("Failed to deliver notification",
			slog.String("job_id", e.JobID),
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Forget drops throttle state for a job that is finished or removed.
func (d *Dispatcher) Forget(jobID string) {
	d.mu.Lock()
	delete(d.lastSent, jobID)
	d.mu.Unlock()
}

func (d *Dispatcher) allow(jobID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSent[jobID]; ok && now.Sub(last) < d.window {
		return false
	}
	for id, sent := range d.lastSent {
		if now.Sub(sent) >= d.window {
			delete(d.lastSent, id)
		}
	}
	d.lastSent[jobID] = now
	return true
}
