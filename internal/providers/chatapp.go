package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultChatTimeout = 60 * time.Second
	maxReplyBytes      = 1 << 20
)

// ChatAppClient talks to a remote conversational app over HTTP.
type ChatAppClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewChatAppClient creates a client for the app rooted at baseURL.
//
// TLS certificate verification is disabled: the LLM app is typically reached on
// an internal address with a self-signed certificate. Point baseURL only at
// hosts you trust on the network path.
func NewChatAppClient(baseURL string, timeout time.Duration) *ChatAppClient {
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &ChatAppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Transport: transport},
	}
}

// BaseURL returns the configured app root.
func (c *ChatAppClient) BaseURL() string { return c.baseURL }

// Chat posts message under sessionID and returns the app's reply.
// Failures are returned as *ChatError; no retries are attempted.
func (c *ChatAppClient) Chat(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	ctx, span := otel.Tracer("botparty/providers").Start(ctx, "chatapp.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatapp.url", c.baseURL),
		attribute.String("chatapp.session_id", sessionID),
	)

	reply, err := c.do(ctx, sessionID, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return reply, nil
}

func (c *ChatAppClient) do(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	if c.baseURL == "" {
		return nil, &ChatError{Cause: "no LLM app url configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(ChatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return nil, &ChatError{Cause: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(data))
	if err != nil {
		return nil, &ChatError{Cause: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	slog.Debug("chatapp: response", "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, &ChatError{Cause: fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return &ChatReply{Raw: string(body)}, nil
	}

	var parsed ChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ChatError{Cause: "malformed response: " + err.Error(), Err: err}
	}
	if parsed.Response.Content == nil {
		return nil, &ChatError{Cause: "malformed response: missing response.content"}
	}
	return &ChatReply{Content: *parsed.Response.Content}, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func classifyTransportError(err error) *ChatError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ChatError{Cause: "timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ChatError{Cause: "timeout", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ChatError{Cause: "canceled", Err: err}
	}
	return &ChatError{Cause: err.Error(), Err: err}
}
