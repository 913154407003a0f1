package mprpc

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Sentinel errors for the local-protocol violations spec.md §6 names
// verbatim. Check against these with errors.Is, not string comparison.
var (
	ErrNotRunning      = errors.New("Session is not running")
	ErrAlreadyRunning  = errors.New("Session is already running")
	ErrAlreadyReserved = errors.New("msgid is already reserved")
	ErrNotReserved     = errors.New("msgid is not reserved")
)

// MethodNotFoundError reports that a Dispatcher has no handler for
// method. Its Error text is part of the wire contract (spec.md §6) and
// must not be reworded.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("No MessagePack-RPC method '%s' exists", e.Method)
}

// WireError is the default shape errorSerializer produces for a handler
// failure: a MessagePack-encodable error record carrying an optional
// numeric code alongside the message. Callers may return a *WireError
// directly from a handler to control Code/Data precisely.
type WireError struct {
	Code    int64  `codec:"code,omitempty"`
	Message string `codec:"message"`
	Data    any    `codec:"data,omitempty"`
}

func (e *WireError) Error() string { return e.Message }

// toWireError converts any error into a *WireError, preserving the Code
// of an already-wire error reachable via errors.As (including one
// wrapped by fmt.Errorf("...: %w", werr)).
func toWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WireError); ok {
		return we
	}
	result := &WireError{Message: err.Error()}
	var wrapped *WireError
	if errors.As(err, &wrapped) {
		result.Code = wrapped.Code
	}
	return result
}

// defaultErrorSerializer is the default errorSerializer (spec.md §4's
// Hooks section). It is not an identity function: it converts err into
// a *WireError via toWireError so that the result is always
// MessagePack-encodable.
func defaultErrorSerializer(err error) any {
	return toWireError(err)
}

// defaultErrorDeserializer is the default for Client's errorDeserializer
// option (spec.md §4.5). A *WireError is returned unchanged; a decoded
// map, a string or any other value is converted into a new *WireError.
func defaultErrorDeserializer(v any) error {
	if v == nil {
		return nil
	}
	if we, ok := v.(*WireError); ok {
		return we
	}
	switch t := v.(type) {
	case map[string]any:
		we := &WireError{}
		if msg, ok := t["message"].(string); ok {
			we.Message = msg
		}
		if code, ok := t["code"].(int64); ok {
			we.Code = code
		}
		we.Data = t["data"]
		return we
	case string:
		return &WireError{Message: t}
	default:
		return &WireError{Message: fmt.Sprintf("%v", t)}
	}
}

// errShutdownSentinel marks cancellation that shutdown/forceShutdown
// induce deliberately. It is filtered out of Session.Wait's returned
// error: per spec.md §4.4, shutdown-induced cancellation completes the
// Session successfully.
var errShutdownSentinel = errors.New("mprpc: session shutting down")

// isShutdownSentinel reports whether err is (or wraps) the shutdown
// sentinel.
func isShutdownSentinel(err error) bool {
	return errors.Is(err, errShutdownSentinel)
}

// joinPipelineErrors aggregates the consumer and producer pipeline
// results for Session.Wait, filtering the shutdown sentinel out of each
// before combining. Returns nil if nothing but the sentinel failed.
func joinPipelineErrors(errs ...error) error {
	var agg *multierror.Error
	for _, err := range errs {
		if err == nil || isShutdownSentinel(err) {
			continue
		}
		agg = multierror.Append(agg, err)
	}
	if agg == nil {
		return nil
	}
	return agg.ErrorOrNil()
}
