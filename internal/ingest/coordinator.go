// Package ingest turns a spoken utterance into persisted tasks.
//
// A [Coordinator] owns one capture session and drives
//
//	Idle → Capturing → Uploading → Succeeded | Failed
//
// Capture starts as soon as the coordinator is constructed. [Coordinator.Toggle]
// is the only external transition: while capturing it stops the recording and
// starts the upload; afterwards it is a no-op. A finished coordinator cannot
// record again; start a new one instead.
//
// The recorded artifact is deleted on every exit path before the coordinator
// reports a terminal state.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/pkg/capture"
	"github.com/MrWong99/voxtodo/pkg/task"
	"github.com/MrWong99/voxtodo/pkg/transcribe"
)

var (
	// ErrBusy is returned by Toggle while a previous Toggle is still stopping
	// the recording.
	ErrBusy = errors.New("ingest: transition in progress")

	// ErrDisposed is returned after Close, and is the failure recorded for a
	// coordinator closed while capturing.
	ErrDisposed = errors.New("ingest: coordinator disposed")
)

// State is the position of a [Coordinator] in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateUploading
	StateSucceeded
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateUploading:
		return "uploading"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether s is Succeeded or Failed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// BatchAdder persists parsed candidates. [tasks.Store] satisfies it.
type BatchAdder interface {
	AddBatch(ctx context.Context, cands []task.Candidate) ([]task.Task, error)
}

// Snapshot is a point-in-time view of a coordinator.
type Snapshot struct {
	ID         string      `json:"id"`
	State      State       `json:"state"`
	Tasks      []task.Task `json:"tasks,omitempty"`
	Err        string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Config holds the collaborators of a [Coordinator].
type Config struct {
	// ID identifies the coordinator in snapshots and logs.
	ID string

	Session *capture.Session
	Parser  transcribe.Parser
	Tasks   BatchAdder

	// Metrics is optional.
	Metrics *observe.Metrics

	// OnChange, if set, receives a snapshot after every state change. It is
	// called without internal locks held.
	OnChange func(Snapshot)
}

// Coordinator orchestrates capture → transcription → task insertion for a
// single utterance. All methods are safe for concurrent use.
type Coordinator struct {
	cfg  Config
	done chan struct{}

	mu         sync.Mutex
	state      State
	busy       bool
	closed     bool
	tasks      []task.Task
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// New creates a coordinator and immediately starts capturing. If capture
// cannot start (for example microphone permission is denied) the returned
// coordinator is already Failed.
func New(ctx context.Context, cfg Config) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		done:      make(chan struct{}),
		state:     StateIdle,
		startedAt: time.Now(),
	}

	c.mu.Lock()
	c.state = StateCapturing
	c.mu.Unlock()
	c.changed()

	if err := cfg.Session.Start(ctx); err != nil {
		c.closeSession(ctx)
		c.finish(ctx, nil, err)
		return c
	}
	if cfg.Metrics != nil {
		cfg.Metrics.ActiveCaptures.Add(ctx, 1)
	}
	observe.Logger(ctx).Info("ingest: capturing", "ingest_id", cfg.ID)
	return c
}

// ID returns the configured identifier.
func (c *Coordinator) ID() string { return c.cfg.ID }

// Toggle stops the recording and begins the upload when capturing. In any
// other state it does nothing. The upload continues after ctx is cancelled;
// use Wait or Done to observe the outcome.
func (c *Coordinator) Toggle(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrDisposed
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case c.state != StateCapturing:
		c.mu.Unlock()
		return nil
	}
	c.busy = true
	c.mu.Unlock()

	path, err := c.cfg.Session.Stop(ctx)
	c.leaveCapturing(ctx)
	if err != nil {
		c.closeSession(ctx)
		c.finish(ctx, nil, err)
		return err
	}

	c.mu.Lock()
	c.state = StateUploading
	c.busy = false
	c.mu.Unlock()
	c.changed()

	go c.upload(context.WithoutCancel(ctx), path)
	return nil
}

// upload runs parse then insert and always removes the artifact before the
// terminal state becomes visible.
func (c *Coordinator) upload(ctx context.Context, path string) {
	ctx, span := observe.StartSpan(ctx, "ingest.upload")
	log := observe.Logger(ctx).With("ingest_id", c.cfg.ID)

	start := time.Now()
	cands, err := c.cfg.Parser.Parse(ctx, path)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordTranscription(ctx, transcriptionStatus(err), time.Since(start))
	}

	var created []task.Task
	if err == nil {
		log.Info("ingest: parsed utterance", "candidates", len(cands))
		created, err = c.cfg.Tasks.AddBatch(ctx, cands)
	}

	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		log.Warn("ingest: remove artifact", "path", path, "err", rmErr)
	}

	c.finish(ctx, created, err)
	observe.EndSpan(span, err)
}

// Close disposes the coordinator. While capturing, the recording is discarded
// and the coordinator fails with [ErrDisposed]. While uploading, the call in
// flight is left to settle and still cleans up its artifact. Close is
// idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	discard := c.state == StateCapturing && !c.busy
	if discard {
		c.busy = true
	}
	c.mu.Unlock()

	if discard {
		ctx := context.Background()
		err := c.cfg.Session.Close()
		c.leaveCapturing(ctx)
		c.finish(ctx, nil, ErrDisposed)
		return err
	}
	return nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure cause once the coordinator has Failed.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the coordinator reaches a terminal state.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Wait blocks until the coordinator is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-c.done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Snapshot returns a copy of the observable state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:        c.cfg.ID,
		State:     c.state,
		StartedAt: c.startedAt,
	}
	if len(c.tasks) > 0 {
		s.Tasks = append([]task.Task(nil), c.tasks...)
	}
	if c.err != nil {
		s.Err = c.err.Error()
	}
	if !c.finishedAt.IsZero() {
		f := c.finishedAt
		s.FinishedAt = &f
	}
	return s
}

// finish moves to Succeeded (err == nil) or Failed. Only the first call has
// an effect.
func (c *Coordinator) finish(ctx context.Context, created []task.Task, err error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.busy = false
	c.finishedAt = time.Now()
	if err != nil {
		c.state = StateFailed
		c.err = err
	} else {
		c.state = StateSucceeded
		c.tasks = created
	}
	outcome, elapsed := c.state.String(), c.finishedAt.Sub(c.startedAt)
	close(c.done)
	c.mu.Unlock()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordIngestion(ctx, outcome, elapsed)
	}
	log := observe.Logger(ctx)
	if err != nil {
		log.Warn("ingest: failed", "ingest_id", c.cfg.ID, "err", err)
	} else {
		log.Info("ingest: succeeded", "ingest_id", c.cfg.ID, "tasks", len(created))
	}
	c.changed()
}

// closeSession releases the capture session on a failure path. The failure
// being reported wins; a release error is only logged.
func (c *Coordinator) closeSession(ctx context.Context) {
	if err := c.cfg.Session.Close(); err != nil {
		observe.Logger(ctx).Warn("ingest: close capture session", "ingest_id", c.cfg.ID, "err", err)
	}
}

// leaveCapturing decrements the active capture gauge once per coordinator
// that actually started recording.
func (c *Coordinator) leaveCapturing(ctx context.Context) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveCaptures.Add(ctx, -1)
	}
}

func (c *Coordinator) changed() {
	if c.cfg.OnChange == nil {
		return
	}
	c.cfg.OnChange(c.Snapshot())
}

func transcriptionStatus(err error) string {
	var rpe *transcribe.RemoteParseError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rpe):
		return fmt.Sprintf("http_%d", rpe.StatusCode)
	case errors.Is(err, transcribe.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
