// Package mock provides test doubles for [capture.Device] and
// [capture.Permissions].
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/voxtodo/pkg/capture"
)

var (
	_ capture.Device      = (*Device)(nil)
	_ capture.Permissions = (*Permissions)(nil)
)

// Device is a mock recording device. On Start it writes Data to the artifact
// path unless SkipWrite is set. The zero value is ready to use.
type Device struct {
	mu sync.Mutex

	// Data is written to the artifact path on Start.
	Data []byte

	// SkipWrite prevents Start from creating the artifact file.
	SkipWrite bool

	// StartErr is returned by Start when non-nil; no file is written.
	StartErr error

	// StopErr is returned by Stop when non-nil.
	StopErr error

	// ReleaseErr is returned by Release when non-nil.
	ReleaseErr error

	startCalls   []string
	stopCalls    int
	releaseCalls int
}

// Start implements capture.Device.
func (d *Device) Start(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCalls = append(d.startCalls, path)
	if d.StartErr != nil {
		return d.StartErr
	}
	if d.SkipWrite {
		return nil
	}
	data := d.Data
	if data == nil {
		data = []byte("m4a")
	}
	return os.WriteFile(path, data, 0o644)
}

// Stop implements capture.Device.
func (d *Device) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCalls++
	return d.StopErr
}

// Release implements capture.Device.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseCalls++
	return d.ReleaseErr
}

// StartCalls returns the artifact paths passed to Start.
func (d *Device) StartCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.startCalls))
	copy(out, d.startCalls)
	return out
}

// StopCalls returns how many times Stop was called.
func (d *Device) StopCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCalls
}

// ReleaseCalls returns how many times Release was called.
func (d *Device) ReleaseCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseCalls
}

// Permissions is a mock capability boundary. The zero value grants access.
type Permissions struct {
	mu sync.Mutex

	// Result is returned by RequestMicrophoneAccess.
	Result capture.Permission

	// Err is returned by RequestMicrophoneAccess when non-nil.
	Err error

	calls int
}

// RequestMicrophoneAccess implements capture.Permissions.
func (p *Permissions) RequestMicrophoneAccess(context.Context) (capture.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.Result, p.Err
}

// Calls returns how many times access was requested.
func (p *Permissions) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
