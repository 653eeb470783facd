package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
)

// StatusError carries the provider's HTTP status and a bounded body excerpt.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

func StatusCodeOf(err error) int {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: constants.ProviderHTTPTimeout}
}

type request struct {
	op      string
	method  string
	url     string
	token   string
	scheme  string
	body    any
	headers map[string]string
}

// do sends r and decodes a 2xx JSON response into out. Non-2xx responses are mapped
// onto the sync error taxonomy.
func do(ctx context.Context, hc *http.Client, r request, out any) error {
	var reader io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to encode request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, reader)
	if err != nil {
		logger.Error(r.op+":NewRequest:Error", "error", err)
		return errors.NewAppError(errors.ErrInternalServer, "failed to create request", err)
	}
	scheme := r.scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	if r.token != "" {
		req.Header.Set("Authorization", scheme+" "+r.token)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		logger.Warn(r.op+":DoRequest:Error", "error", err)
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.NewAppError(errors.ErrProviderTransient, "failed to read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(body)
		if len(excerpt) > 512 {
			excerpt = excerpt[:512]
		}
		logger.Warn(r.op+":APIError", "status", resp.StatusCode, "body", excerpt)
		return classifyStatus(resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: excerpt})
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		logger.Error(r.op+":Unmarshal:Error", "error", err)
		return errors.NewAppError(errors.ErrProviderRequest, "failed to parse provider response", err)
	}
	return nil
}

func classifyStatus(status int, se *StatusError) error {
	switch {
	case status == http.StatusUnauthorized:
		return errors.NewAppError(errors.ErrAuthExpired, "provider rejected access token", se)
	case status == http.StatusForbidden:
		return errors.NewAppError(errors.ErrForbidden, "provider denied the request", se)
	case status == http.StatusNotFound:
		return errors.NewAppError(errors.ErrNotFound, "provider resource not found", se)
	case status == http.StatusGone:
		return errors.NewAppError(errors.ErrCursorExpired, "provider sync token expired", se)
	case status == http.StatusConflict:
		return errors.NewAppError(errors.ErrAlreadyExists, "provider resource already exists", se)
	case status == http.StatusTooManyRequests:
		return errors.NewAppError(errors.ErrProviderRateLimited, "provider rate limit", se)
	case status >= 500:
		return errors.NewAppError(errors.ErrProviderTransient, "provider unavailable", se)
	default:
		return errors.NewAppError(errors.ErrProviderRequest, fmt.Sprintf("provider request failed with %d", status), se)
	}
}

func classifyTransportError(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if stderrors.As(err, &ne) || stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.NewAppError(errors.ErrProviderTransient, "provider request timed out", err)
	}
	return errors.NewAppError(errors.ErrProviderTransient, "provider request failed", err)
}

// ignoreNotFound treats a missing remote resource as already deleted.
func ignoreNotFound(err error) error {
	if errors.IsCode(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

func bodyContains(err error, needles ...string) bool {
	var se *StatusError
	if !stderrors.As(err, &se) {
		return false
	}
	lower := strings.ToLower(se.Body)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Call sends one JSON request with the same status classification the provider
// clients use. authScheme defaults to Bearer.
func Call(ctx context.Context, hc *http.Client, op, method, url, authScheme, token string, body, out any) error {
	return do(ctx, hc, request{op: op, method: method, url: url, scheme: authScheme, token: token, body: body}, out)
}

// NewHTTPClient returns a client with the provider request timeout.
func NewHTTPClient() *http.Client {
	return newHTTPClient()
}
