package ldapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBodySize = 4096

// ErrUnauthorized indicates the API rejected the access token.
var ErrUnauthorized = errors.New("launchdarkly unauthorized")

// ErrNotFound indicates the requested resource does not exist.
var ErrNotFound = errors.New("launchdarkly resource not found")

// ErrRetriesExhausted indicates a request kept failing with retryable
// statuses until the attempt budget ran out.
var ErrRetriesExhausted = errors.New("launchdarkly retries exhausted")

// ErrReaderExhausted is returned by AuditLogReader.Next after the last page.
var ErrReaderExhausted = errors.New("audit log reader exhausted")

// TransportError is a non-retryable, non-2xx response.
type TransportError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("launchdarkly %s %s failed with status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("launchdarkly %s %s failed (%d): %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Is lets callers match common statuses with errors.Is.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

func transportErrorFor(req *http.Request, resp *http.Response) *TransportError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &TransportError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		URL:        req.URL.String(),
		Body:       strings.TrimSpace(string(data)),
	}
}

