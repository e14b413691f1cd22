package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
)

type sendRequest struct {
	To             string   `json:"to"`
	Body           string   `json:"body,omitempty"`
	Parts          []string `json:"parts,omitempty"`
	SubscriptionID int32    `json:"subscription_id"`
}

type sendResponse struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

// HTTPTransport sends through a modem gateway speaking JSON over HTTP.
type HTTPTransport struct {
	baseURL       string
	sendPath      string
	multipartPath string
	client        *http.Client
	br            *MicroBreaker
}

func NewHTTPTransport(cfg config.TransportConfig, now func() time.Time) *HTTPTransport {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	failThreshold := cfg.Breaker.FailThreshold
	if failThreshold <= 0 {
		failThreshold = 3
	}

	openForMs := cfg.Breaker.OpenForMs
	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPTransport{
		baseURL:       cfg.BaseURL,
		sendPath:      cfg.SendPath,
		multipartPath: cfg.MultipartPath,
		client:        &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:            NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond, now),
	}
}

var _ Transport = (*HTTPTransport)(nil)

func (t *HTTPTransport) Ready() bool { return t.br.Ready() }

func (t *HTTPTransport) Divide(body string) []string { return Divide(body) }

func (t *HTTPTransport) Send(ctx context.Context, body, address string, endpointID int32) <-chan Result {
	return t.async(ctx, t.sendPath, sendRequest{To: address, Body: body, SubscriptionID: endpointID})
}

func (t *HTTPTransport) SendMultipart(ctx context.Context, parts []string, address string, endpointID int32) <-chan Result {
	return t.async(ctx, t.multipartPath, sendRequest{To: address, Parts: parts, SubscriptionID: endpointID})
}

func (t *HTTPTransport) async(ctx context.Context, path string, req sendRequest) <-chan Result {
	out := make(chan Result, 1)
	if !t.br.TryAcquire() {
		out <- Result{Code: CodeTransportUnavailable, Err: ErrBreakerOpen}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		res := t.post(ctx, path, req)
		// only gateway trouble trips the breaker; a device-reported failure
		// means the gateway itself is up
		switch {
		case errors.Is(res.Err, context.Canceled):
			t.br.OnAbort()
		case res.Code == CodeTransportUnavailable || res.Code == CodeTimeout:
			t.br.OnFailure()
		default:
			t.br.OnSuccess()
		}
		out <- res
	}()
	return out
}

func (t *HTTPTransport) post(ctx context.Context, path string, payload sendRequest) Result {
	b, err := json.Marshal(payload)
	if err != nil {
		return Result{Code: CodeGenericFailure, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return Result{Code: CodeGenericFailure, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return Result{Code: CodeTimeout, Err: err}
		case errors.Is(err, context.Canceled):
			return Result{Code: CodeGenericFailure, Err: err}
		}
		return Result{Code: CodeTransportUnavailable, Err: err}
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var body sendResponse
	_ = json.Unmarshal(raw, &body)

	switch {
	case res.StatusCode/100 == 2:
		if body.Code == "" {
			return Result{Code: CodeOK}
		}
		code := ParseResultCode(body.Code)
		if code.Success() {
			return Result{Code: code}
		}
		return Result{Code: code, Err: gatewayError(path, res.StatusCode, body)}
	case res.StatusCode == http.StatusTooManyRequests:
		return Result{Code: CodeLimitExceeded, Err: gatewayError(path, res.StatusCode, body)}
	case res.StatusCode == http.StatusBadGateway, res.StatusCode == http.StatusServiceUnavailable:
		return Result{Code: CodeTransportUnavailable, Err: gatewayError(path, res.StatusCode, body)}
	case res.StatusCode == http.StatusGatewayTimeout:
		return Result{Code: CodeTimeout, Err: gatewayError(path, res.StatusCode, body)}
	default:
		code := ParseResultCode(body.Code)
		if code.Success() {
			code = CodeGenericFailure
		}
		return Result{Code: code, Err: gatewayError(path, res.StatusCode, body)}
	}
}

func gatewayError(path string, status int, body sendResponse) error {
	if body.Error != "" {
		return fmt.Errorf("gateway path=%s status=%d: %s", path, status, body.Error)
	}
	return fmt.Errorf("gateway path=%s status=%d", path, status)
}
