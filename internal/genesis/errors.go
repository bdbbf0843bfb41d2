package genesis

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind int

const (
	ErrTransport ErrorKind = iota
	ErrMalformedResponse
	ErrJobNotFound
	ErrJobExhausted
	ErrUnexpectedStatus
	ErrNoData
	ErrCachedJob
	ErrConfig
	ErrCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransport:
		return "Transport"
	case ErrMalformedResponse:
		return "MalformedResponse"
	case ErrJobNotFound:
		return "JobNotFound"
	case ErrJobExhausted:
		return "JobExhausted"
	case ErrUnexpectedStatus:
		return "UnexpectedStatus"
	case ErrNoData:
		return "NoData"
	case ErrCachedJob:
		return "CachedJob"
	case ErrConfig:
		return "Config"
	case ErrCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is returned by every Client operation.
type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Advice returns the remedial action an operator should take.
func (e *Error) Advice() string {
	switch e.Kind {
	case ErrTransport:
		return "Check network connectivity to the GENESIS endpoint and retry later"
	case ErrMalformedResponse:
		return "The service returned an unexpected payload; check credentials and the service status page"
	case ErrJobNotFound:
		return "The job handle expired on the server; clear the cache entry and run again to resubmit"
	case ErrJobExhausted:
		return "The job is still running; rerun later and the cached handle will be polled again"
	case ErrUnexpectedStatus:
		return "Check the table id, period and filters against the GENESIS catalogue"
	case ErrNoData:
		return "The table has no data for the requested period and filters"
	case ErrCachedJob:
		return "Check the job in the GENESIS portal or clear the cache entry"
	case ErrConfig:
		return "Check the source URL, credentials and GENESIS_* environment variables"
	case ErrCancelled:
		return "The run was cancelled; the cached handle is kept for the next run"
	default:
		return "Check the logs for details"
	}
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var gerr *Error
		if !errors.As(err, &gerr) {
			return false
		}
		if gerr.Kind == kind {
			return true
		}
		err = gerr.Cause
	}
	return false
}
