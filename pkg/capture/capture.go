// Package capture owns a single audio recording lifecycle.
//
// A [Session] drives an injected [Device] through the state machine
//
//	Idle → Recording → Stopped   (artifact ready)
//	Idle → Recording → Failed    (error surfaced)
//
// The device is released exactly once regardless of which terminal state is
// reached. A session records once; a new recording needs a new Session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied is returned by Start when microphone access is not
	// granted.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrAlreadyRecording is returned by Start while the session is recording.
	ErrAlreadyRecording = errors.New("capture: already recording")

	// ErrNotRecording is returned by Stop outside the Recording state.
	ErrNotRecording = errors.New("capture: not recording")

	// ErrFinished is returned by Start once the session reached a terminal state.
	ErrFinished = errors.New("capture: session already finished")

	// ErrNoArtifact is returned by Stop when the device stopped cleanly but left
	// nothing at the artifact path.
	ErrNoArtifact = errors.New("capture: recording produced no artifact")
)

// State is the lifecycle position of a [Session].
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Permission is the outcome of a microphone access request.
type Permission int

const (
	PermissionGranted Permission = iota
	PermissionDenied
	PermissionPermanentlyDenied
)

// String returns the human-readable name of the permission.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionPermanentlyDenied:
		return "permanently_denied"
	default:
		return "unknown"
	}
}

// Device is the recording hardware abstraction. Start begins writing audio to
// path; Stop finishes the recording and flushes the file. Release frees the
// device and is called exactly once per Session.
type Device interface {
	Start(ctx context.Context, path string) error
	Stop(ctx context.Context) error
	Release() error
}

// Permissions is the capability boundary for microphone access.
type Permissions interface {
	RequestMicrophoneAccess(ctx context.Context) (Permission, error)
}

// Option configures a [Session].
type Option func(*Session)

// WithDir sets the directory artifacts are written to. Defaults to
// [os.TempDir].
func WithDir(dir string) Option {
	return func(s *Session) { s.dir = dir }
}

// Session is one recording lifecycle. All methods are safe for concurrent
// use; Start, Stop and Close are serialized.
type Session struct {
	dev   Device
	perms Permissions
	dir   string

	mu    sync.Mutex
	state State
	path  string
	err   error

	releaseOnce sync.Once
	releaseErr  error
}

// NewSession returns an idle session over dev.
func NewSession(dev Device, perms Permissions, opts ...Option) *Session {
	s := &Session{
		dev:   dev,
		perms: perms,
		dir:   os.TempDir(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start requests microphone access and begins recording to a fresh artifact
// path. A permission refusal leaves the session idle so the caller may ask
// again after access was granted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRecording:
		return ErrAlreadyRecording
	case StateStopped, StateFailed:
		return ErrFinished
	}

	perm, err := s.perms.RequestMicrophoneAccess(ctx)
	if err != nil {
		return fmt.Errorf("capture: request microphone access: %w", err)
	}
	if perm != PermissionGranted {
		return fmt.Errorf("%w (%s)", ErrPermissionDenied, perm)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return s.failLocked(fmt.Errorf("capture: create artifact dir: %w", err))
	}
	s.path = filepath.Join(s.dir, "recording-"+uuid.NewString()+".m4a")

	if err := s.dev.Start(ctx, s.path); err != nil {
		return s.failLocked(fmt.Errorf("capture: start device: %w", err))
	}
	s.state = StateRecording
	slog.Debug("capture: recording started", "path", s.path)
	return nil
}

// Stop finishes the recording and returns the artifact path. Ownership of the
// artifact passes to the caller.
func (s *Session) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return "", ErrNotRecording
	}
	if err := s.dev.Stop(ctx); err != nil {
		return "", s.failLocked(fmt.Errorf("capture: stop device: %w", err))
	}
	if _, err := os.Stat(s.path); err != nil {
		return "", s.failLocked(fmt.Errorf("%w: %w", ErrNoArtifact, err))
	}

	s.state = StateStopped
	s.release()
	slog.Debug("capture: recording stopped", "path", s.path)
	return s.path, nil
}

// Close tears the session down. A recording in progress is stopped and its
// partial artifact removed. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording {
		if err := s.dev.Stop(context.Background()); err != nil {
			slog.Warn("capture: stop device on close", "err", err)
		}
		s.failLocked(errors.New("capture: session closed while recording"))
	}
	s.release()
	return s.releaseErr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Path returns the artifact path of the current or last recording.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// failLocked moves the session to Failed, drops the partial artifact and
// releases the device. It returns err for convenience.
func (s *Session) failLocked(err error) error {
	s.state = StateFailed
	s.err = err
	if s.path != "" {
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("capture: remove partial artifact", "path", s.path, "err", rmErr)
		}
	}
	s.release()
	return err
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.dev.Release()
		if s.releaseErr != nil {
			slog.Warn("capture: release device", "err", s.releaseErr)
		}
	})
}
