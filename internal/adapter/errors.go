package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels matched with errors.Is.
var (
	// ErrTransport means no response was received (dial failure, reset,
	// timeout, cancelled context).
	ErrTransport = errors.New("remote transport failure")
	// ErrConflict corresponds to HTTP 409.
	ErrConflict = errors.New("remote conflict")
	// ErrClientError corresponds to any other 4xx status.
	ErrClientError = errors.New("remote rejected request")
	// ErrServerError corresponds to a 5xx status.
	ErrServerError = errors.New("remote server error")
)

// Outcome is the class of a remote response status.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeConflict
	OutcomeClientError
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConflict:
		return "conflict"
	case OutcomeClientError:
		return "client_error"
	case OutcomeServerError:
		return "server_error"
	}
	return "unknown"
}

// Retriable reports whether a request with this outcome may be retried.
func (o Outcome) Retriable() bool {
	return o == OutcomeServerError
}

// Classify maps an HTTP status to its outcome. 1xx and 3xx statuses reaching
// the caller are treated as client errors.
func Classify(status int) Outcome {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return OutcomeSuccess
	case status == http.StatusConflict:
		return OutcomeConflict
	case status >= http.StatusInternalServerError:
		return OutcomeServerError
	default:
		return OutcomeClientError
	}
}

// StatusError converts a non-2xx response into an error wrapping the
// matching sentinel and carrying the server's message. It returns nil for 2xx.
func StatusError(resp Response) error {
	body := strings.TrimSpace(string(resp.Body))
	if body == "" {
		body = http.StatusText(resp.Status)
	}

	switch Classify(resp.Status) {
	case OutcomeSuccess:
		return nil
	case OutcomeConflict:
		return fmt.Errorf("%w: %s", ErrConflict, body)
	case OutcomeServerError:
		return fmt.Errorf("%w: http %d: %s", ErrServerError, resp.Status, body)
	default:
		return fmt.Errorf("%w: http %d: %s", ErrClientError, resp.Status, body)
	}
}
