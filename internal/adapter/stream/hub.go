// Package stream owns the live observer connections and the broadcast gate.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/domain"
)

// Conn is a live observer connection.
type Conn interface {
	// ID is unique for the lifetime of the hub.
	ID() string
	// Send writes one payload. It must return within a bounded time.
	Send(ctx context.Context, payload []byte) error
	// Close releases the underlying transport. It must be idempotent.
	Close() error
}

type entry struct {
	conn   Conn
	paused atomic.Bool
}

// Hub keeps the registry of live connections and the hub-wide pause flag.
// Broadcast passes are serialized so every connection sees records in the
// order Broadcast was invoked; sends within a pass run concurrently.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.IngestMetrics
	policy  ControlPolicy

	mu      sync.RWMutex
	entries map[string]*entry

	paused      atomic.Bool
	broadcastMu sync.Mutex
}

// NewHub creates an empty, unpaused hub.
func NewHub(logger *slog.Logger, m *metrics.IngestMetrics, policy ControlPolicy) *Hub {
	if policy == nil {
		policy = HubWide{}
	}
	return &Hub{
		logger:  logger.With("component", "broadcast_hub"),
		metrics: m,
		policy:  policy,
		entries: make(map[string]*entry),
	}
}

// Connect registers conn. A connection with the same ID replaces the old one.
func (h *Hub) Connect(conn Conn) {
	h.mu.Lock()
	h.entries[conn.ID()] = &entry{conn: conn}
	n := len(h.entries)
	h.mu.Unlock()

	h.metrics.HubObservers.Set(float64(n))
	h.logger.Info("Observer connected", "conn_id", conn.ID(), "observers", n)
}

// Disconnect removes conn from the registry. It reports whether the
// connection was registered; removing an absent connection is a no-op.
func (h *Hub) Disconnect(conn Conn) bool {
	h.mu.Lock()
	e, ok := h.entries[conn.ID()]
	if ok && e.conn == conn {
		delete(h.entries, conn.ID())
	} else {
		ok = false
	}
	n := len(h.entries)
	h.mu.Unlock()

	if ok {
		h.metrics.HubObservers.Set(float64(n))
		h.logger.Info("Observer disconnected", "conn_id", conn.ID(), "observers", n)
	}
	return ok
}

// Pause closes the hub-wide gate for all subsequent broadcasts.
func (h *Hub) Pause() {
	if h.paused.CompareAndSwap(false, true) {
		h.metrics.HubPaused.Set(1)
		h.logger.Info("Broadcast paused")
	}
}

// Resume reopens the hub-wide gate.
func (h *Hub) Resume() {
	if h.paused.CompareAndSwap(true, false) {
		h.metrics.HubPaused.Set(0)
		h.logger.Info("Broadcast resumed")
	}
}

// Paused reports the hub-wide gate state.
func (h *Hub) Paused() bool {
	return h.paused.Load()
}

// PauseConn pauses delivery to a single connection.
func (h *Hub) PauseConn(id string) bool {
	return h.setConnPaused(id, true)
}

// ResumeConn resumes delivery to a single connection.
func (h *Hub) ResumeConn(id string) bool {
	return h.setConnPaused(id, false)
}

func (h *Hub) setConnPaused(id string, paused bool) bool {
	h.mu.RLock()
	e, ok := h.entries[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	e.paused.Store(paused)
	return true
}

// Control applies an inbound observer control action through the configured
// policy. Unknown actions are ignored and reported as not handled.
func (h *Hub) Control(conn Conn, action string) bool {
	switch Action(action) {
	case ActionPause, ActionResume:
		h.policy.Apply(h, conn, Action(action))
		h.logger.Debug("Observer control applied", "conn_id", conn.ID(), "action", action, "scope", h.policy.Scope())
		return true
	default:
		h.logger.Debug("Ignoring unknown observer control", "conn_id", conn.ID(), "action", action)
		return false
	}
}

// Status returns a snapshot of the hub state.
func (h *Hub) Status() domain.HubStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := domain.HubStatus{Observers: len(h.entries), Paused: h.paused.Load()}
	for _, e := range h.entries {
		if e.paused.Load() {
			status.PausedObservers++
		}
	}
	return status
}

// Broadcast delivers payload to every live, unpaused connection. While the
// hub is paused nothing is sent and nothing is kept for later. Connections
// whose send fails are pruned once the pass has completed.
func (h *Hub) Broadcast(ctx context.Context, payload []byte) domain.BroadcastResult {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	snapshot := h.snapshot()
	result := domain.BroadcastResult{Observers: len(snapshot)}

	if h.paused.Load() {
		result.Paused = true
		h.metrics.HubDeliveriesTotal.WithLabelValues("skipped_paused").Add(float64(len(snapshot)))
		return result
	}

	// Sends are bounded by each connection's write timeout, not by the
	// producer's request.
	sendCtx := context.WithoutCancel(ctx)
	failures := make([]error, len(snapshot))
	delivered := make([]bool, len(snapshot))
	var wg sync.WaitGroup
	for i, e := range snapshot {
		if e.paused.Load() {
			continue
		}
		wg.Add(1)
		go func(i int, conn Conn) {
			defer wg.Done()
			if err := conn.Send(sendCtx, payload); err != nil {
				failures[i] = &domain.DeliveryError{Conn: conn.ID(), Err: err}
				return
			}
			delivered[i] = true
		}(i, e.conn)
	}
	wg.Wait()

	for i, e := range snapshot {
		switch {
		case delivered[i]:
			result.Delivered++
		case failures[i] != nil:
			h.logger.Warn("Pruning observer after failed delivery", "conn_id", e.conn.ID(), "error", failures[i])
			if h.Disconnect(e.conn) {
				result.Pruned++
			}
			_ = e.conn.Close()
		}
	}

	h.metrics.HubDeliveriesTotal.WithLabelValues("ok").Add(float64(result.Delivered))
	if n := countErrors(failures); n > 0 {
		h.metrics.HubDeliveriesTotal.WithLabelValues("failed").Add(float64(n))
	}
	h.metrics.HubPrunedTotal.Add(float64(result.Pruned))
	return result
}

// CloseAll closes and removes every connection. Used on shutdown.
func (h *Hub) CloseAll() {
	for _, e := range h.snapshot() {
		h.Disconnect(e.conn)
		_ = e.conn.Close()
	}
}

func (h *Hub) snapshot() []*entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]*entry, 0, len(h.entries))
	for _, e := range h.entries {
		list = append(list, e)
	}
	return list
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
