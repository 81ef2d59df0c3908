package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxtodo/internal/ingest"
	"github.com/MrWong99/voxtodo/internal/reminder"
	"github.com/MrWong99/voxtodo/internal/tasks"
	"github.com/MrWong99/voxtodo/pkg/capture"
	capturemock "github.com/MrWong99/voxtodo/pkg/capture/mock"
	notifymock "github.com/MrWong99/voxtodo/pkg/notify/mock"
	storagemock "github.com/MrWong99/voxtodo/pkg/storage/mock"
	"github.com/MrWong99/voxtodo/pkg/task"
	"github.com/MrWong99/voxtodo/pkg/transcribe"
	transcribemock "github.com/MrWong99/voxtodo/pkg/transcribe/mock"
)

var now = time.Date(2025, 5, 31, 12, 0, 0, 0, time.Local)

type fixture struct {
	dev      *capturemock.Device
	perms    *capturemock.Permissions
	parser   *transcribemock.Parser
	db       *storagemock.Store
	notifier *notifymock.Notifier
	store    *tasks.Store
	dir      string

	mu        sync.Mutex
	snapshots []ingest.Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dev:      &capturemock.Device{Data: []byte("m4a-bytes")},
		perms:    &capturemock.Permissions{},
		parser:   &transcribemock.Parser{},
		db:       storagemock.New(),
		notifier: &notifymock.Notifier{},
		dir:      t.TempDir(),
	}
	sched := reminder.New(f.notifier, reminder.WithClock(func() time.Time { return now }))
	s, err := tasks.New(context.Background(), f.db, sched)
	if err != nil {
		t.Fatalf("tasks.New: %v", err)
	}
	f.store = s
	return f
}

func (f *fixture) session() *capture.Session {
	return capture.NewSession(f.dev, f.perms, capture.WithDir(f.dir))
}

func (f *fixture) config(sess *capture.Session) ingest.Config {
	return ingest.Config{
		ID:      "ing-1",
		Session: sess,
		Parser:  f.parser,
		Tasks:   f.store,
		OnChange: func(s ingest.Snapshot) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.snapshots = append(f.snapshots, s)
		},
	}
}

func (f *fixture) start(t *testing.T) *ingest.Coordinator {
	t.Helper()
	c := ingest.New(context.Background(), f.config(f.session()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (f *fixture) artifact(t *testing.T) string {
	t.Helper()
	paths := f.dev.StartCalls()
	if len(paths) != 1 {
		t.Fatalf("device started %d times, want 1", len(paths))
	}
	return paths[0]
}

func wait(t *testing.T, c *ingest.Coordinator) ingest.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v (state %s)", err, snap.State)
	}
	return snap
}

func assertGone(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("artifact %s still present (stat err %v)", path, err)
	}
}

func TestCoordinator_BuyMilk(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Candidates = []task.Candidate{{
		Title: "Buy milk", DueDate: "2025-06-01T09:00:00Z", Priority: "low", Category: "personal",
	}}

	c := f.start(t)
	if c.State() != ingest.StateCapturing {
		t.Fatalf("state after New = %s, want capturing", c.State())
	}
	path := f.artifact(t)

	if err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	snap := wait(t, c)

	if snap.State != ingest.StateSucceeded {
		t.Fatalf("state = %s (err %q), want succeeded", snap.State, snap.Err)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Title != "Buy milk" {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}
	want := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if d := snap.Tasks[0].Due; d == nil || !d.Equal(want) {
		t.Errorf("due = %v, want %v", d, want)
	}
	if f.notifier.PendingCount() != 1 {
		t.Errorf("pending reminders = %d, want 1", f.notifier.PendingCount())
	}
	calls := f.parser.Calls()
	if len(calls) != 1 || calls[0].ArtifactPath != path || !calls[0].ArtifactExisted {
		t.Errorf("parser calls = %+v", calls)
	}
	assertGone(t, path)
}

func TestCoordinator_NeverSucceedsWithArtifactPresent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Candidates = []task.Candidate{{Title: "a", Category: "work"}}

	var (
		mu      sync.Mutex
		present []string
	)
	cfg := f.config(f.session())
	cfg.OnChange = func(s ingest.Snapshot) {
		if !s.State.Terminal() {
			return
		}
		for _, p := range f.dev.StartCalls() {
			if _, err := os.Stat(p); err == nil {
				mu.Lock()
				present = append(present, s.State.String())
				mu.Unlock()
			}
		}
	}
	c := ingest.New(context.Background(), cfg)
	_ = c.Toggle(context.Background())
	wait(t, c)

	mu.Lock()
	defer mu.Unlock()
	if len(present) != 0 {
		t.Errorf("artifact present when entering %v", present)
	}
}

func TestCoordinator_PermissionDeniedOnConstruction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.perms.Result = capture.PermissionDenied

	c := f.start(t)
	select {
	case <-c.Done():
	default:
		t.Fatal("coordinator not terminal after permission denial")
	}
	if c.State() != ingest.StateFailed || !errors.Is(c.Err(), capture.ErrPermissionDenied) {
		t.Errorf("state = %s, err = %v", c.State(), c.Err())
	}
	if err := c.Toggle(context.Background()); err != nil {
		t.Errorf("Toggle on failed coordinator = %v, want no-op", err)
	}
	if f.parser.CallCount() != 0 {
		t.Error("parser called without a recording")
	}
	if f.dev.ReleaseCalls() != 1 {
		t.Errorf("device released %d times, want 1", f.dev.ReleaseCalls())
	}
}

func TestCoordinator_RemoteParseErrorLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Err = &transcribe.RemoteParseError{StatusCode: 500}

	c := f.start(t)
	path := f.artifact(t)
	_ = c.Toggle(context.Background())
	snap := wait(t, c)

	if snap.State != ingest.StateFailed {
		t.Fatalf("state = %s, want failed", snap.State)
	}
	if snap.Err != (&transcribe.RemoteParseError{StatusCode: 500}).Error() {
		t.Errorf("error message = %q, want remote error verbatim", snap.Err)
	}
	var rpe *transcribe.RemoteParseError
	if !errors.As(c.Err(), &rpe) || rpe.StatusCode != 500 {
		t.Errorf("Err = %v", c.Err())
	}
	if list, _ := f.store.List(context.Background()); len(list) != 0 {
		t.Errorf("store gained %d tasks", len(list))
	}
	if f.db.CallCount("Insert") != 0 {
		t.Error("Insert attempted after parse failure")
	}
	assertGone(t, path)
}

func TestCoordinator_PersistenceFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Candidates = []task.Candidate{{Title: "a"}, {Title: "b"}}
	f.db.SetInsertErr(errors.New("disk full"))

	c := f.start(t)
	path := f.artifact(t)
	_ = c.Toggle(context.Background())
	snap := wait(t, c)

	if snap.State != ingest.StateFailed || !errors.Is(c.Err(), task.ErrPersistence) {
		t.Errorf("state = %s, err = %v", snap.State, c.Err())
	}
	if len(snap.Tasks) != 0 {
		t.Errorf("failed snapshot reports tasks: %+v", snap.Tasks)
	}
	assertGone(t, path)
}

func TestCoordinator_StopFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.dev.StopErr = errors.New("device unplugged")

	c := f.start(t)
	path := f.artifact(t)
	if err := c.Toggle(context.Background()); err == nil {
		t.Fatal("Toggle succeeded despite stop failure")
	}
	if c.State() != ingest.StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
	if f.parser.CallCount() != 0 {
		t.Error("parser called after failed stop")
	}
	assertGone(t, path)
}

// Not parallel: swaps the default logger.
func TestCoordinator_ReleaseErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name    string
		setup   func(f *fixture)
		trigger func(c *ingest.Coordinator)
		wantErr error
	}{
		{
			name:    "permission denied on construction",
			setup:   func(f *fixture) { f.perms.Result = capture.PermissionDenied },
			trigger: func(*ingest.Coordinator) {},
			wantErr: capture.ErrPermissionDenied,
		},
		{
			name:    "stop failure",
			setup:   func(f *fixture) { f.dev.StopErr = errors.New("device unplugged") },
			trigger: func(c *ingest.Coordinator) { _ = c.Toggle(context.Background()) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			f := newFixture(t)
			f.dev.ReleaseErr = errors.New("device busy")
			tt.setup(f)

			c := f.start(t)
			tt.trigger(c)
			snap := wait(t, c)

			if snap.State != ingest.StateFailed {
				t.Fatalf("state = %s, want failed", snap.State)
			}
			if tt.wantErr != nil && !errors.Is(c.Err(), tt.wantErr) {
				t.Errorf("err = %v, want %v", c.Err(), tt.wantErr)
			}
			if errors.Is(c.Err(), f.dev.ReleaseErr) {
				t.Errorf("release error replaced the failure: %v", c.Err())
			}
			out := buf.String()
			if !strings.Contains(out, "ingest: close capture session") || !strings.Contains(out, "device busy") {
				t.Errorf("log output missing release error:\n%s", out)
			}
			if !strings.Contains(out, "ingest_id=ing-1") {
				t.Errorf("log output missing ingest id:\n%s", out)
			}
		})
	}
}

func TestCoordinator_ToggleIsNoOpOnceUploading(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Block = make(chan struct{})
	f.parser.Started = make(chan struct{}, 1)

	c := f.start(t)
	if err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	<-f.parser.Started

	if c.State() != ingest.StateUploading {
		t.Fatalf("state = %s, want uploading", c.State())
	}
	for range 3 {
		if err := c.Toggle(context.Background()); err != nil {
			t.Errorf("Toggle while uploading = %v, want nil", err)
		}
	}
	close(f.parser.Block)
	wait(t, c)

	if err := c.Toggle(context.Background()); err != nil {
		t.Errorf("Toggle after success = %v", err)
	}
	if f.parser.CallCount() != 1 {
		t.Errorf("parser calls = %d, want 1", f.parser.CallCount())
	}
	if len(f.dev.StartCalls()) != 1 {
		t.Error("recording restarted")
	}
}

func TestCoordinator_UploadSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Candidates = []task.Candidate{{Title: "a"}}
	f.parser.Block = make(chan struct{})
	f.parser.Started = make(chan struct{}, 1)

	c := f.start(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Toggle(ctx); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	<-f.parser.Started
	cancel()
	close(f.parser.Block)

	if snap := wait(t, c); snap.State != ingest.StateSucceeded {
		t.Errorf("state = %s (%s), want succeeded", snap.State, snap.Err)
	}
}

// slowStopDevice blocks in Stop until release is closed.
type slowStopDevice struct {
	*capturemock.Device
	stopping chan struct{}
	release  chan struct{}
}

func (d *slowStopDevice) Stop(ctx context.Context) error {
	close(d.stopping)
	<-d.release
	return d.Device.Stop(ctx)
}

func TestCoordinator_ConcurrentToggleIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	dev := &slowStopDevice{
		Device:   f.dev,
		stopping: make(chan struct{}),
		release:  make(chan struct{}),
	}
	c := ingest.New(context.Background(), f.config(capture.NewSession(dev, f.perms, capture.WithDir(f.dir))))
	t.Cleanup(func() { _ = c.Close() })

	first := make(chan error, 1)
	go func() { first <- c.Toggle(context.Background()) }()
	<-dev.stopping

	if err := c.Toggle(context.Background()); !errors.Is(err, ingest.ErrBusy) {
		t.Errorf("second Toggle = %v, want ErrBusy", err)
	}
	close(dev.release)
	if err := <-first; err != nil {
		t.Errorf("first Toggle = %v", err)
	}
	wait(t, c)
}

func TestCoordinator_CloseWhileCapturing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	c := f.start(t)
	path := f.artifact(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	snap := wait(t, c)
	if snap.State != ingest.StateFailed || !errors.Is(c.Err(), ingest.ErrDisposed) {
		t.Errorf("state = %s, err = %v", snap.State, c.Err())
	}
	if err := c.Toggle(context.Background()); !errors.Is(err, ingest.ErrDisposed) {
		t.Errorf("Toggle after Close = %v, want ErrDisposed", err)
	}
	if f.dev.ReleaseCalls() != 1 {
		t.Errorf("device released %d times, want 1", f.dev.ReleaseCalls())
	}
	assertGone(t, path)
}

func TestCoordinator_CloseWhileUploading(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Candidates = []task.Candidate{{Title: "a"}}
	f.parser.Block = make(chan struct{})
	f.parser.Started = make(chan struct{}, 1)

	c := f.start(t)
	path := f.artifact(t)
	_ = c.Toggle(context.Background())
	<-f.parser.Started

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != ingest.StateUploading {
		t.Errorf("state after Close = %s, want uploading", c.State())
	}
	close(f.parser.Block)

	snap := wait(t, c)
	if !snap.State.Terminal() {
		t.Errorf("state = %s, want terminal", snap.State)
	}
	assertGone(t, path)
}

func TestCoordinator_ReportsStateChanges(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.parser.Candidates = []task.Candidate{{Title: "a"}}

	c := f.start(t)
	_ = c.Toggle(context.Background())
	wait(t, c)

	f.mu.Lock()
	defer f.mu.Unlock()
	var states []string
	for _, s := range f.snapshots {
		states = append(states, s.State.String())
	}
	if got := strings.Join(states, ","); got != "capturing,uploading,succeeded" {
		t.Errorf("states = %s", got)
	}
}
