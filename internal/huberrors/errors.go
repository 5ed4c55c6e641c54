// Package huberrors defines the tagged error kinds surfaced across the hub.
package huberrors

import "fmt"

// Kind tags an error with the category spec'd for the hub's error surface.
type Kind string

// Error kinds surfaced by the hub. See spec section 7.
const (
	KindConfigInvalid     Kind = "CONFIG_INVALID"
	KindPersistenceFailed Kind = "PERSISTENCE_FAILED"
	KindConnectFailed     Kind = "CONNECT_FAILED"
	KindListToolsFailed   Kind = "LIST_TOOLS_FAILED"
	KindCallFailed        Kind = "CALL_FAILED"
	KindTimeout           Kind = "TIMEOUT"
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindServerRemoved     Kind = "SERVER_REMOVED"
	KindSessionClosed     Kind = "SESSION_CLOSED"
)

// HubError wraps an underlying error with a Kind and, for upstream call
// failures, the raw HTTP status that triggered it (used to detect the
// reconnect-eligible 40x class).
type HubError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *HubError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/As to see through to the underlying cause.
func (e *HubError) Unwrap() error {
	return e.Err
}

// New builds a HubError of the given kind.
func New(kind Kind, message string, err error) *HubError {
	return &HubError{Kind: kind, Message: message, Err: err}
}

// WithStatus attaches an HTTP status code, used to detect reconnect-eligible
// 40x failures from streamable-HTTP upstreams.
func (e *HubError) WithStatus(status int) *HubError {
	e.HTTPStatus = status
	return e
}

// Is40x reports whether the error is a CALL_FAILED carrying a 4xx HTTP
// status - the class eligible for the reconnect-retry path.
func Is40x(err error) bool {
	var he *HubError
	if !asHubError(err, &he) {
		return false
	}
	return he.Kind == KindCallFailed && he.HTTPStatus >= 400 && he.HTTPStatus < 500
}

func asHubError(err error, target **HubError) bool {
	for err != nil {
		if he, ok := err.(*HubError); ok {
			*target = he
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
