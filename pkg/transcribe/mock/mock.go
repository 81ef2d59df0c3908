// Package mock provides a test double for [transcribe.Parser].
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/voxtodo/pkg/task"
	"github.com/MrWong99/voxtodo/pkg/transcribe"
)

var _ transcribe.Parser = (*Parser)(nil)

// ParseCall records a single invocation of Parser.Parse.
type ParseCall struct {
	ArtifactPath string

	// ArtifactExisted reports whether the artifact was on disk at call time.
	ArtifactExisted bool
}

// Parser is a mock implementation of transcribe.Parser.
type Parser struct {
	mu sync.Mutex

	// Candidates is returned by Parse when Err is nil.
	Candidates []task.Candidate

	// Err, if non-nil, is returned by Parse.
	Err error

	// Block, if non-nil, makes Parse wait until it is closed or the context
	// is done.
	Block chan struct{}

	// Started, if non-nil, receives one value when Parse begins.
	Started chan struct{}

	calls []ParseCall
}

// Parse implements transcribe.Parser.
func (p *Parser) Parse(ctx context.Context, artifactPath string) ([]task.Candidate, error) {
	_, statErr := os.Stat(artifactPath)

	p.mu.Lock()
	p.calls = append(p.calls, ParseCall{ArtifactPath: artifactPath, ArtifactExisted: statErr == nil})
	block, started := p.Block, p.Started
	cands, err := p.Candidates, p.Err
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]task.Candidate, len(cands))
	copy(out, cands)
	return out, nil
}

// Calls returns a copy of the recorded calls.
func (p *Parser) Calls() []ParseCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ParseCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many times Parse was called.
func (p *Parser) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
