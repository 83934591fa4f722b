// Package history loads the past messages of a chat mode from the backend.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/transport"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/koscakluka/ema-widget/core/history"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const DefaultPath = "/history/"

type Client struct {
	baseURL     string
	path        string
	credentials transport.Credentials
	httpClient  *http.Client
}

type Option func(*Client)

func WithCredentials(credentials transport.Credentials) Option {
	return func(c *Client) { c.credentials = credentials }
}

func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = path
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		path:       DefaultPath,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record is a single history entry as returned by the backend.
type Record struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type historyBody struct {
	Results json.RawMessage `json:"results"`
}

// Load fetches the history of mode and maps it to conversation messages in
// their original order. A response without a results array is an empty
// history.
func (c *Client) Load(ctx context.Context, mode string) ([]messages.Message, error) {
	ctx, span := tracer.Start(ctx, "load history")
	defer span.End()
	span.SetAttributes(attribute.String("request.mode", mode))

	records, err := c.fetch(ctx, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.records", len(records)))

	return ToMessages(records), nil
}

func (c *Client) fetch(ctx context.Context, mode string) ([]Record, error) {
	target, err := transport.ResolveURL(c.baseURL, c.path)
	if err != nil {
		return nil, err
	}
	query := target.Query()
	query.Set("history_type", historyType(mode))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating history request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.credentials.Apply(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &transport.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(errorBody)}
	}

	var body historyBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("error decoding history: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(body.Results, &records); err != nil {
		logger.DebugContext(ctx, "history results is not an array", "error", err)
		return nil, nil
	}
	return records, nil
}

func historyType(mode string) string {
	if mode == "admin" {
		return "sql"
	}
	return "query"
}

// ToMessages maps history records to messages. Records whose content looks
// like markup become media messages.
func ToMessages(records []Record) []messages.Message {
	result := make([]messages.Message, 0, len(records))
	for _, record := range records {
		result = append(result, messages.New(
			messages.RoleFromSender(record.Sender),
			record.Message,
			messages.ClassifyKind(record.Message),
		))
	}
	return result
}
