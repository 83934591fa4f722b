// Package httpstream opens reply streams over plain HTTP. In direct mode the
// body of the question POST is the stream; in two step mode the POST returns a
// stream_url which is then read with a GET.
package httpstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/koscakluka/ema-widget/core/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeTwoStep Mode = "two_step"
)

var _ transport.Opener = (*Client)(nil)

type Client struct {
	baseURL     string
	credentials transport.Credentials
	endpoints   transport.Endpoints
	mode        Mode
	httpClient  *http.Client
}

type Option func(*Client)

func WithCredentials(credentials transport.Credentials) Option {
	return func(c *Client) { c.credentials = credentials }
}

func WithEndpoints(endpoints transport.Endpoints) Option {
	return func(c *Client) {
		if len(endpoints) > 0 {
			c.endpoints = endpoints
		}
	}
}

func WithMode(mode Mode) Option {
	return func(c *Client) { c.mode = mode }
}

// WithHTTPClient replaces the instrumented default client. The client must not
// set a Timeout as that would cut long replies short.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		endpoints: transport.DefaultEndpoints(),
		mode:      ModeDirect,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type questionBody struct {
	Question string `json:"question"`
}

type streamURLBody struct {
	StreamURL string `json:"stream_url"`
}

// Open sends the question and returns the reply stream. The stream is bound to
// ctx: cancelling ctx aborts a pending read.
func (c *Client) Open(ctx context.Context, request transport.Request) (transport.Stream, error) {
	ctx, span := tracer.Start(ctx, "open http stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.mode", request.Mode),
		attribute.String("transport.stream_mode", string(c.mode)),
	)

	stream, err := c.open(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return stream, nil
}

func (c *Client) open(ctx context.Context, request transport.Request) (transport.Stream, error) {
	endpoint, err := c.endpoints.Resolve(c.baseURL, request.Mode)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(questionBody{Question: request.Question})
	if err != nil {
		return nil, fmt.Errorf("error marshalling question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.credentials.Apply(req.Header)

	switch c.mode {
	case ModeTwoStep:
		req.Header.Set("Accept", "application/json")
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var body streamURLBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("error decoding stream url response: %w", err)
		}
		if body.StreamURL == "" {
			return nil, fmt.Errorf("response did not contain a stream url")
		}
		return c.openStreamURL(ctx, body.StreamURL)

	case ModeDirect, "":
		req.Header.Set("Accept", "text/event-stream, application/x-ndjson, text/plain")
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		return newBodyStream(resp.Body), nil

	default:
		return nil, fmt.Errorf("unknown stream mode %q", c.mode)
	}
}

func (c *Client) openStreamURL(ctx context.Context, streamURL string) (transport.Stream, error) {
	target, err := transport.ResolveURL(c.baseURL, streamURL)
	if err != nil {
		return nil, err
	}
	query := target.Query()
	c.credentials.ApplyQuery(query)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson, text/plain")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return newBodyStream(resp.Body), nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &transport.StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(errorBody)),
		}
	}
	return resp, nil
}
