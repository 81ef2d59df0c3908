// Package execrec implements [capture.Device] by running an external recorder
// process such as ffmpeg or arecord.
//
// The configured argv may contain the placeholder {output}, which is replaced
// with the artifact path. Stop sends SIGINT so the recorder can finalise the
// container, and kills the process if it has not exited within the stop
// timeout.
package execrec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxtodo/pkg/capture"
)

// OutputPlaceholder is replaced with the artifact path in every argument.
const OutputPlaceholder = "{output}"

const defaultStopTimeout = 5 * time.Second

var (
	_ capture.Device      = (*Recorder)(nil)
	_ capture.Permissions = Permissions{}
)

// Option configures a [Recorder].
type Option func(*Recorder)

// WithStopTimeout sets how long Stop waits after SIGINT before killing the
// recorder.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// Recorder runs one recorder process per Start call.
type Recorder struct {
	argv        []string
	stopTimeout time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan error
	stderr bytes.Buffer
}

// New returns a Recorder for argv. argv must name a program and reference
// {output} somewhere.
func New(argv []string, opts ...Option) (*Recorder, error) {
	if len(argv) == 0 {
		return nil, errors.New("execrec: empty recorder command")
	}
	if !strings.Contains(strings.Join(argv, " "), OutputPlaceholder) {
		return nil, fmt.Errorf("execrec: recorder command must contain %s", OutputPlaceholder)
	}
	r := &Recorder{
		argv:        argv,
		stopTimeout: defaultStopTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Start launches the recorder writing to path.
func (r *Recorder) Start(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return errors.New("execrec: recorder already started")
	}

	args := make([]string, len(r.argv)-1)
	for i, a := range r.argv[1:] {
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, path)
	}
	// Not CommandContext: the recorder outlives the request that started it.
	cmd := exec.Command(r.argv[0], args...)
	cmd.Stderr = &r.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("execrec: start %s: %w", r.argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	r.cmd = cmd
	r.done = done
	slog.Debug("execrec: recorder started", "pid", cmd.Process.Pid, "path", path)
	return nil
}

// Stop interrupts the recorder and waits for it to exit.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return errors.New("execrec: recorder not started")
	}

	select {
	case err := <-r.done:
		// Exited on its own before we asked.
		r.done = nil
		if err != nil {
			return fmt.Errorf("execrec: recorder exited early: %w (stderr: %s)", err, tail(r.stderr.String()))
		}
		return nil
	default:
	}

	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Warn("execrec: interrupt recorder", "err", err)
	}

	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()

	select {
	case err := <-r.done:
		r.done = nil
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("execrec: wait recorder: %w", err)
		}
		// Recorders commonly exit non-zero on SIGINT; the artifact decides.
		return nil
	case <-timer.C:
		slog.Warn("execrec: recorder ignored interrupt, killing", "timeout", r.stopTimeout)
	case <-ctx.Done():
		slog.Warn("execrec: stop cancelled, killing recorder", "err", ctx.Err())
	}
	_ = r.cmd.Process.Kill()
	<-r.done
	r.done = nil
	return nil
}

// Release kills the recorder if it is still running.
func (r *Recorder) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil || r.done == nil {
		return nil
	}
	_ = r.cmd.Process.Kill()
	<-r.done
	r.done = nil
	return nil
}

// Permissions reports microphone access by whether the recorder binary can be
// resolved. A missing binary is permanent: asking again will not help.
type Permissions struct {
	Binary string
}

// RequestMicrophoneAccess implements [capture.Permissions].
func (p Permissions) RequestMicrophoneAccess(context.Context) (capture.Permission, error) {
	if _, err := exec.LookPath(p.Binary); err != nil {
		slog.Warn("execrec: recorder binary not found", "binary", p.Binary, "err", err)
		return capture.PermissionPermanentlyDenied, nil
	}
	return capture.PermissionGranted, nil
}

func tail(s string) string {
	const n = 256
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
