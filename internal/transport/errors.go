package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors matched by *Error through errors.Is. Callers should branch
// on these instead of inspecting status codes.
var (
	// ErrUnauthorized covers a 401 from the backend and a request refused
	// locally because the session is absent or expired.
	ErrUnauthorized = errors.New("transport: unauthorized")

	// ErrRejected is a 4xx other than 401: validation, conflict, not found,
	// or a lifecycle operation the backend considers illegal.
	ErrRejected = errors.New("transport: rejected by backend")

	// ErrServer is a 5xx response.
	ErrServer = errors.New("transport: backend error")

	// ErrTimeout is returned when the fixed request timeout elapsed.
	ErrTimeout = errors.New("transport: timeout")

	// ErrNetwork is any failure to obtain a response at all.
	ErrNetwork = errors.New("transport: network failure")

	// ErrAborted is returned when an interceptor refused to send the request.
	ErrAborted = errors.New("transport: request aborted")
)

// Kind classifies a failed call.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindRejected     Kind = "rejected"
	KindServer       Kind = "server"
	KindTimeout      Kind = "timeout"
	KindNetwork      Kind = "network"
	KindAborted      Kind = "aborted"
)

var kindSentinels = map[Kind]error{
	KindUnauthorized: ErrUnauthorized,
	KindRejected:     ErrRejected,
	KindServer:       ErrServer,
	KindTimeout:      ErrTimeout,
	KindNetwork:      ErrNetwork,
	KindAborted:      ErrAborted,
}

// ErrorPayload is the error body the backend may send. FastAPI puts the
// message in detail, either as a string or as a list of validation issues.
// Other endpoints use message or error.
type ErrorPayload struct {
	Detail  json.RawMessage `json:"detail,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Error is the typed failure returned for every unsuccessful call. It always
// carries a displayable Message.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int
	Message    string
	Payload    *ErrorPayload
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transport: %s %s: ", e.Method, e.Path)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "%d: ", e.StatusCode)
	} else {
		fmt.Fprintf(&b, "%s: ", e.Kind)
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// AsError extracts the *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Message returns the displayable message of err. Errors that did not come
// from the transport fall back to err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Message
	}
	return err.Error()
}

// kindForStatus maps a non-2xx status code to its Kind.
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code >= 500:
		return KindServer
	}
	return KindRejected
}

// statusError builds the *Error for a non-2xx response body.
func statusError(method, path string, code int, body []byte) *Error {
	e := &Error{
		Kind:       kindForStatus(code),
		Method:     method,
		Path:       path,
		StatusCode: code,
	}

	var p ErrorPayload
	if len(body) > 0 && json.Unmarshal(body, &p) == nil {
		e.Payload = &p
		e.Message = p.text()
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("request failed: %d %s", code, http.StatusText(code))
	}
	return e
}

// validationIssue is one entry of a FastAPI 422 detail list.
type validationIssue struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// text extracts a displayable message, trying detail, message, then error.
func (p ErrorPayload) text() string {
	if s := rawText(p.Detail); s != "" {
		return s
	}
	if p.Message != "" {
		return p.Message
	}
	return rawText(p.Error)
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var issues []validationIssue
	if json.Unmarshal(raw, &issues) == nil && len(issues) > 0 {
		lines := make([]string, 0, len(issues))
		for _, is := range issues {
			loc := make([]string, 0, len(is.Loc))
			for _, l := range is.Loc {
				loc = append(loc, fmt.Sprint(l))
			}
			if len(loc) > 0 {
				lines = append(lines, strings.Join(loc, ".")+": "+is.Msg)
			} else {
				lines = append(lines, is.Msg)
			}
		}
		return strings.Join(lines, "; ")
	}

	// {"error": {"message": "...", "code": "..."}}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return ""
}
