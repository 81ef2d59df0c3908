// Package transcribe uploads a recorded artifact to the remote parsing
// endpoint and decodes the structured task candidates it returns.
//
// The endpoint contract is
//
//	POST {baseURL}/parse-todo
//	multipart: audio (file, audio/m4a), userDateTime (local ISO-8601)
//	Authorization: Bearer {apiKey}
//	200 → {"todos": [{"title", "description", "due_date", "priority", "category"}]}
//
// Each Parse is a single attempt. A configured [Guard] may reject the call
// up front (for example an open circuit breaker), but nothing is retried.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/voxtodo/pkg/task"
)

// ErrMalformedResponse is returned when a 200 response body does not match
// the expected shape.
var ErrMalformedResponse = errors.New("transcribe: malformed response")

// RemoteParseError is returned for any non-200 response.
type RemoteParseError struct {
	StatusCode int
	Body       string
}

// Error implements error.
func (e *RemoteParseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transcribe: remote parse failed with HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transcribe: remote parse failed with HTTP %d: %s", e.StatusCode, e.Body)
}

// Parser turns an audio artifact into task candidates.
type Parser interface {
	Parse(ctx context.Context, artifactPath string) ([]task.Candidate, error)
}

// Guard wraps the network round trip. [resilience.CircuitBreaker] satisfies
// it.
type Guard interface {
	Execute(fn func() error) error
}

// userDateTimeLayout is the local timestamp sent with every request so the
// remote parser can resolve relative dates.
const userDateTimeLayout = "2006-01-02T15:04:05.000"

const (
	defaultTimeout  = 60 * time.Second
	maxErrorBody    = 512
	maxResponseBody = 4 << 20
)

var _ Parser = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The client's idle connections are
// closed after every Parse.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithClock overrides the source of the userDateTime field.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithGuard routes the network round trip through g. Transport errors and
// 5xx responses count as failures for the guard.
func WithGuard(g Guard) Option {
	return func(cl *Client) { cl.guard = g }
}

// Client talks to the remote parsing endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time
	guard      Guard
}

// New returns a Client for baseURL. baseURL must be non-empty.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("transcribe: baseURL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// Parse uploads the artifact and returns the decoded candidates.
func (c *Client) Parse(ctx context.Context, artifactPath string) ([]task.Candidate, error) {
	defer c.httpClient.CloseIdleConnections()

	body, contentType, err := c.encode(artifactPath)
	if err != nil {
		return nil, err
	}

	var (
		status int
		data   []byte
	)
	roundTrip := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse-todo", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("transcribe: create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("transcribe: http request: %w", err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
		if err != nil {
			return fmt.Errorf("transcribe: read response body: %w", err)
		}
		if status >= http.StatusInternalServerError {
			return c.remoteErr(status, data)
		}
		return nil
	}

	if c.guard != nil {
		err = c.guard.Execute(roundTrip)
	} else {
		err = roundTrip()
	}
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.remoteErr(status, data)
	}
	if len(data) > maxResponseBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxResponseBody)
	}

	cands, err := decode(data)
	if err != nil {
		return nil, err
	}
	slog.Debug("transcribe: parsed candidates", "count", len(cands), "artifact", filepath.Base(artifactPath))
	return cands, nil
}

func (c *Client) remoteErr(status int, data []byte) *RemoteParseError {
	msg := strings.TrimSpace(string(data))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return &RemoteParseError{StatusCode: status, Body: msg}
}

// encode builds the multipart body. The artifact is read fully so its file
// handle is closed before the network call starts.
func (c *Client) encode(artifactPath string) ([]byte, string, error) {
	f, err := os.Open(artifactPath)
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: open artifact: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filepath.Base(artifactPath)))
	h.Set("Content-Type", "audio/m4a")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: create audio part: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", fmt.Errorf("transcribe: write audio part: %w", err)
	}

	if err := mw.WriteField("userDateTime", c.now().Local().Format(userDateTimeLayout)); err != nil {
		return nil, "", fmt.Errorf("transcribe: write userDateTime field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("transcribe: close multipart writer: %w", err)
	}
	return body.Bytes(), mw.FormDataContentType(), nil
}

// candidateKeys are the fields every todo element must carry. Keys mapped to
// true may be JSON null, which decodes as an empty string.
var candidateKeys = map[string]bool{
	"title":       false,
	"description": true,
	"due_date":    true,
	"priority":    false,
	"category":    false,
}

func decode(data []byte) ([]task.Candidate, error) {
	var envelope struct {
		Todos *[]map[string]json.RawMessage `json:"todos"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if envelope.Todos == nil {
		return nil, fmt.Errorf("%w: missing todos array", ErrMalformedResponse)
	}

	out := make([]task.Candidate, 0, len(*envelope.Todos))
	for i, raw := range *envelope.Todos {
		fields := make(map[string]string, len(candidateKeys))
		for key, nullable := range candidateKeys {
			v, ok := raw[key]
			if !ok {
				return nil, fmt.Errorf("%w: todos[%d]: missing %q", ErrMalformedResponse, i, key)
			}
			s, err := decodeString(v, nullable)
			if err != nil {
				return nil, fmt.Errorf("%w: todos[%d].%s: %w", ErrMalformedResponse, i, key, err)
			}
			fields[key] = s
		}
		out = append(out, task.Candidate{
			Title:       fields["title"],
			Description: fields["description"],
			DueDate:     fields["due_date"],
			Priority:    fields["priority"],
			Category:    fields["category"],
		})
	}
	return out, nil
}

func decodeString(v json.RawMessage, nullable bool) (string, error) {
	if string(bytes.TrimSpace(v)) == "null" {
		if nullable {
			return "", nil
		}
		return "", errors.New("must not be null")
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", errors.New("must be a string")
	}
	return s, nil
}
