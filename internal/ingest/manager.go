package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/pkg/capture"
	"github.com/MrWong99/voxtodo/pkg/transcribe"
)

var (
	// ErrCaptureActive is returned by Start while another coordinator is
	// still capturing. There is one microphone.
	ErrCaptureActive = errors.New("ingest: a capture is already active")

	// ErrUnknownIngestion is returned for ids the manager does not know.
	ErrUnknownIngestion = errors.New("ingest: unknown ingestion")
)

const defaultRetain = 32

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// NewSession returns a fresh capture session for each ingestion.
	NewSession func() (*capture.Session, error)

	Parser transcribe.Parser
	Tasks  BatchAdder

	// Metrics is optional.
	Metrics *observe.Metrics

	// OnChange receives every coordinator state change.
	OnChange func(Snapshot)

	// Retain bounds how many finished ingestions are kept for status
	// queries. Default: 32.
	Retain int
}

// Manager owns the lifecycle of ingestion coordinators. Only one coordinator
// may capture at a time. All exported methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu     sync.Mutex
	active *Coordinator
	byID   map[string]*Coordinator
	order  []string
	closed bool
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Retain <= 0 {
		cfg.Retain = defaultRetain
	}
	return &Manager{
		cfg:  cfg,
		byID: make(map[string]*Coordinator),
	}
}

// Start creates a coordinator, which begins capturing immediately. The
// returned coordinator may already be Failed if capture could not start.
func (m *Manager) Start(ctx context.Context) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrDisposed
	}
	if m.active != nil && m.active.State() == StateCapturing {
		return nil, fmt.Errorf("%w (id=%s)", ErrCaptureActive, m.active.ID())
	}

	sess, err := m.cfg.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ingest: create capture session: %w", err)
	}

	c := New(ctx, Config{
		ID:       uuid.NewString(),
		Session:  sess,
		Parser:   m.cfg.Parser,
		Tasks:    m.cfg.Tasks,
		Metrics:  m.cfg.Metrics,
		OnChange: m.cfg.OnChange,
	})
	m.active = c
	m.byID[c.ID()] = c
	m.order = append(m.order, c.ID())
	m.pruneLocked()
	return c, nil
}

// Get returns the coordinator with the given id.
func (m *Manager) Get(id string) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIngestion, id)
	}
	return c, nil
}

// Toggle forwards to the coordinator with the given id.
func (m *Manager) Toggle(ctx context.Context, id string) (*Coordinator, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c, c.Toggle(ctx)
}

// List returns snapshots of all retained coordinators, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	ids := append([]string(nil), m.order...)
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if c, err := m.Get(id); err == nil {
			out = append(out, c.Snapshot())
		}
	}
	return out
}

// Shutdown closes every coordinator and waits for uploads in flight to
// settle, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	all := make([]*Coordinator, 0, len(m.byID))
	for _, c := range m.byID {
		all = append(all, c)
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range all {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range all {
		select {
		case <-c.Done():
		case <-ctx.Done():
			slog.Warn("ingest: shutdown abandoned upload", "ingest_id", c.ID())
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}

// pruneLocked drops the oldest finished coordinators beyond the retention
// bound. Coordinators still in progress are never dropped.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.cfg.Retain
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.byID[id].State().Terminal() {
			delete(m.byID, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
