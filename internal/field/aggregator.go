// ABOUTME: Field Aggregator: coalesces mutation triggers and polls, appending snapshots to the field log
// ABOUTME: Reads are plain queries against the store and never block writers

package field

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/store"
)

// maxPendingEvents bounds the audit blob of one snapshot.
const maxPendingEvents = 32

// Publisher receives every recorded snapshot.
type Publisher interface {
	PublishField(snap *store.FieldSnapshot)
}

// Aggregator recomputes the field on demand and on a fixed interval.
type Aggregator struct {
	store        store.Store
	publisher    Publisher
	logger       *slog.Logger
	params       Params
	onlineWindow time.Duration
	pollInterval time.Duration
	now          func() time.Time

	trigger chan struct{}
	mu      sync.Mutex
	pending []store.FieldEvent
	dropped int
}

// AggregatorConfig configures an Aggregator. Zero values take defaults.
type AggregatorConfig struct {
	Params       Params
	OnlineWindow time.Duration
	PollInterval time.Duration
	Publisher    Publisher
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewAggregator creates an Aggregator over s.
func NewAggregator(s store.Store, cfg AggregatorConfig) *Aggregator {
	a := &Aggregator{
		store:        s,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
		params:       cfg.Params,
		onlineWindow: cfg.OnlineWindow,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		trigger:      make(chan struct{}, 1),
	}
	if a.params.MessageWindow <= 0 {
		a.params.MessageWindow = DefaultParams().MessageWindow
	}
	if a.params.Cap <= 0 {
		a.params.Cap = DefaultCap
	}
	if a.onlineWindow <= 0 {
		a.onlineWindow = config.DefaultOnlineWindow
	}
	if a.pollInterval <= 0 {
		a.pollInterval = config.DefaultPollInterval
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "field")
	return a
}

// Trigger queues ev and wakes Run. It never blocks; triggers that arrive
// while a recompute is pending are folded into it.
func (a *Aggregator) Trigger(ev store.FieldEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now().UTC()
	}
	a.mu.Lock()
	if len(a.pending) < maxPendingEvents {
		a.pending = append(a.pending, ev)
	} else {
		a.dropped++
	}
	a.mu.Unlock()

	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Notify implements Notifier.
func (a *Aggregator) Notify(ev store.FieldEvent) { a.Trigger(ev) }

// Run recomputes on every trigger and poll tick until ctx is done. Store
// failures are logged and the loop keeps going.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	a.logger.Info("field aggregator started", "poll_interval", a.pollInterval)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("field aggregator stopped")
			return nil
		case <-a.trigger:
			if err := a.Flush(ctx); err != nil {
				a.logger.Error("recording field state", "error", err)
			}
		case <-ticker.C:
			a.Trigger(store.FieldEvent{Type: EventTick})
		}
	}
}

// Flush records one snapshot carrying every pending event. One-shot
// processes that never call Run use it after their last mutation.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	events := a.pending
	dropped := a.dropped
	a.pending = nil
	a.dropped = 0
	a.mu.Unlock()

	if dropped > 0 {
		events = append(events, store.FieldEvent{
			Type:      "coalesced",
			Data:      map[string]any{"dropped": dropped},
			Timestamp: a.now().UTC(),
		})
	}
	_, err := a.Record(ctx, events)
	return err
}

// Pending reports how many events are waiting for the next recompute.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Current computes the field state without writing it.
func (a *Aggregator) Current(ctx context.Context) (*Snapshot, error) {
	now := a.now().UTC()
	agents, err := a.store.ListLiveAgents(ctx, now.Add(-a.onlineWindow))
	if err != nil {
		return nil, fmt.Errorf("reading live agents: %w", err)
	}
	messages, err := a.store.ListMessagesSince(ctx, now.Add(-a.params.MessageWindow), 0)
	if err != nil {
		return nil, fmt.Errorf("reading message window: %w", err)
	}
	return Recompute(agents, messages, now, a.params), nil
}

// Record computes the field state, appends it to the log with events and
// publishes it.
func (a *Aggregator) Record(ctx context.Context, events []store.FieldEvent) (*store.FieldSnapshot, error) {
	snap, err := a.Current(ctx)
	if err != nil {
		return nil, err
	}
	row := snap.Record(events)
	if err := a.store.AppendFieldSnapshot(ctx, row); err != nil {
		return nil, fmt.Errorf("appending field snapshot: %w", err)
	}
	a.logger.Debug("field recorded",
		"coherence", row.CollectiveCoherence,
		"pattern", row.Pattern,
		"agents", row.ActiveAgents,
		"events", len(events))
	if a.publisher != nil {
		a.publisher.PublishField(row)
	}
	return row, nil
}

// History returns the newest log rows first.
func (a *Aggregator) History(ctx context.Context, limit int) ([]*store.FieldSnapshot, error) {
	rows, err := a.store.ListFieldSnapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reading field history: %w", err)
	}
	return rows, nil
}
