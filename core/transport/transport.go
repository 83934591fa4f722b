// Package transport describes how the widget opens a reply stream for a
// question. Concrete transports live in the subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
)

// Request is a single question sent in a chat mode.
type Request struct {
	Mode     string
	Question string
}

// Stream is an open reply stream. Chunks yields raw bytes as they arrive, split
// at arbitrary offsets. Close releases the underlying connection and unblocks a
// pending read; it is safe to call more than once.
type Stream interface {
	Chunks(ctx context.Context) iter.Seq2[[]byte, error]
	Close() error
}

// Opener opens a reply stream for a question.
type Opener interface {
	Open(ctx context.Context, request Request) (Stream, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, request Request) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, request Request) (Stream, error) {
	return f(ctx, request)
}

var ErrUnknownMode = errors.New("unknown chat mode")

// StatusError is returned when the backend answers with a non 2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status: %s", e.Status)
	}
	return fmt.Sprintf("unexpected HTTP status: %s: %s", e.Status, e.Body)
}

// Credentials identify the widget to the backend.
type Credentials struct {
	Token      string
	ProjectID  string
	ServiceKey string
}

// Apply sets the authentication headers on header. Empty values are omitted.
func (c Credentials) Apply(header http.Header) {
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.ProjectID != "" {
		header.Set("X-Project-Id", c.ProjectID)
	}
	if c.ServiceKey != "" {
		header.Set("X-Service-Key", c.ServiceKey)
	}
}

// ApplyQuery adds the credentials as query parameters, for transports that
// cannot carry headers.
func (c Credentials) ApplyQuery(values url.Values) {
	values.Set("token", c.Token)
	values.Set("project_id", c.ProjectID)
	values.Set("service_key", c.ServiceKey)
}

// Endpoints maps chat modes to backend paths.
type Endpoints map[string]string

// DefaultEndpoints are the paths of the user assistant and the admin channel.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		"user":  "/query/",
		"admin": "/sql/",
	}
}

// Resolve returns the absolute URL of the endpoint for mode.
func (e Endpoints) Resolve(baseURL, mode string) (*url.URL, error) {
	path, ok := e[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return ResolveURL(baseURL, path)
}

// ResolveURL resolves ref against baseURL. Absolute refs are returned as is.
func ResolveURL(baseURL, ref string) (*url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	target, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	if target.IsAbs() {
		return target, nil
	}
	if strings.HasPrefix(target.Path, "/") {
		// Keep a base path prefix such as https://host/api.
		target.Path = strings.TrimSuffix(base.Path, "/") + target.Path
	}
	return base.ResolveReference(target), nil
}
