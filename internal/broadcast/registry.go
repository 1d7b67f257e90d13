package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skypro1111/live-caption-service/internal/metrics"
	"github.com/skypro1111/live-caption-service/internal/protocol"
)

// OutboxSize is the number of events queued for one listener before it is
// treated as stalled and removed
const OutboxSize = 64

// Channel is one outbound listener. Implementations must be comparable
// (pointer types), since membership is keyed by identity.
type Channel interface {
	// ID identifies the channel in logs
	ID() string
	// Send delivers one serialized event
	Send(ctx context.Context, payload []byte) error
}

// member is a registered channel with its own outbox and writer goroutine
type member struct {
	ch     Channel
	outbox chan []byte
	stop   chan struct{}
}

// Registry tracks live channels and broadcasts events to all of them.
// Each channel is written by its own goroutine, so a slow listener never
// delays a broadcasting session or the other listeners.
type Registry struct {
	members map[Channel]*member
	mu      sync.RWMutex
	closed  bool

	// Writers
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Report summarizes one broadcast
type Report struct {
	Queued int
	Pruned []string
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		members: make(map[Channel]*member),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: m,
	}
}

// Register adds a channel. Registering the same channel twice keeps one entry.
// Channels registered after Close are ignored.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	if _, exists := r.members[ch]; exists || r.closed {
		r.mu.Unlock()
		return
	}
	m := &member{
		ch:     ch,
		outbox: make(chan []byte, OutboxSize),
		stop:   make(chan struct{}),
	}
	r.members[ch] = m
	count := len(r.members)
	r.wg.Add(1)
	r.mu.Unlock()

	go r.deliver(m)

	r.metrics.SetListeners(count)
	r.logger.Debug("Listener registered",
		slog.String("channel_id", ch.ID()),
		slog.Int("listeners", count),
	)
}

// Unregister removes a channel. Removing an absent channel is a no-op.
// Events already queued for the channel are still written.
func (r *Registry) Unregister(ch Channel) bool {
	r.mu.Lock()
	m, exists := r.members[ch]
	if exists {
		r.removeLocked(m, true)
	}
	count := len(r.members)
	r.mu.Unlock()

	if exists {
		r.metrics.SetListeners(count)
		r.logger.Debug("Listener unregistered",
			slog.String("channel_id", ch.ID()),
			slog.Int("listeners", count),
		)
	}
	return exists
}

// removeLocked drops m from the membership. Without drain its queued events are discarded.
func (r *Registry) removeLocked(m *member, drain bool) {
	delete(r.members, m.ch)
	close(m.outbox)
	if !drain {
		close(m.stop)
	}
}

// prune removes m after a failed send unless it was already replaced or removed
func (r *Registry) prune(m *member, err error) {
	r.mu.Lock()
	current, exists := r.members[m.ch]
	removed := exists && current == m
	if removed {
		r.removeLocked(m, false)
	}
	count := len(r.members)
	r.mu.Unlock()

	if !removed {
		return
	}

	r.metrics.SetListeners(count)
	r.metrics.RecordListenerPruned()
	r.logger.Warn("Failed to send to listener, removing",
		slog.String("channel_id", m.ch.ID()),
		slog.String("error", err.Error()),
	)
}

// deliver writes queued events to one channel in order until its outbox closes
func (r *Registry) deliver(m *member) {
	defer r.wg.Done()

	for payload := range m.outbox {
		select {
		case <-m.stop:
			return
		default:
		}

		if err := m.ch.Send(r.ctx, payload); err != nil {
			r.prune(m, err)
			return
		}
		r.metrics.RecordDelivery()
	}
}

// Contains reports whether the channel is registered
func (r *Registry) Contains(ch Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.members[ch]
	return exists
}

// Len returns the number of registered channels
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast serializes the event once and queues it for every registered
// channel without waiting for delivery. Every channel receives events in
// the order Broadcast was called. A channel whose outbox is full is removed.
func (r *Registry) Broadcast(ctx context.Context, event protocol.TranscriptEvent) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	payload, err := event.Marshal()
	if err != nil {
		return Report{}, fmt.Errorf("failed to encode broadcast: %w", err)
	}

	var report Report
	var stalled []*member

	r.mu.Lock()
	for _, m := range r.members {
		select {
		case m.outbox <- payload:
			report.Queued++
		default:
			stalled = append(stalled, m)
		}
	}
	for _, m := range stalled {
		r.removeLocked(m, false)
		report.Pruned = append(report.Pruned, m.ch.ID())
	}
	count := len(r.members)
	r.mu.Unlock()

	if len(stalled) > 0 {
		r.metrics.SetListeners(count)
		for _, m := range stalled {
			r.metrics.RecordListenerPruned()
			r.logger.Warn("Listener outbox full, removing",
				slog.String("channel_id", m.ch.ID()),
				slog.Int("outbox_size", OutboxSize),
			)
		}
	}

	r.metrics.RecordBroadcast(event.IsClear(), report.Queued)

	return report, nil
}

// Close unregisters every channel and waits until queued events are written.
// When ctx expires first, pending sends are cancelled.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, m := range r.members {
		r.removeLocked(m, true)
	}
	r.mu.Unlock()
	r.metrics.SetListeners(0)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	defer r.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
