package mprpc

import "fmt"

// Message tags, matching the MessagePack-RPC wire shapes of spec.md §3
// exactly: Request=[0,msgid,method,params], Response=[1,msgid,error,
// result], Notification=[2,method,params].
const (
	TagRequest      = 0
	TagResponse     = 1
	TagNotification = 2
)

// Message is the closed set of the three MessagePack-RPC variants. It
// mirrors jsonrpc2_v2's Message interface (a private marker method
// keeping the set of implementations closed), generalized from the two
// JSON-RPC variants to the three MessagePack-RPC ones spec.md §3 defines.
type Message interface {
	// wireArray returns this message's MessagePack array form, tag
	// element first, ready for a single codec.Encoder.Encode call.
	wireArray() []any
	isMessage()
}

// Request is sent to invoke a method and receive a Response correlated
// by Msgid.
type Request struct {
	Msgid  uint32
	Method string
	Params []any
}

// Response replies to a Request with the same Msgid. Exactly one of
// Error/Result is non-nil by convention (spec.md §3); the engine does
// not enforce mutual exclusion on decode.
type Response struct {
	Msgid  uint32
	Error  any
	Result any
}

// Notification invokes a method with no reply expected.
type Notification struct {
	Method string
	Params []any
}

func (r *Request) isMessage()      {}
func (r *Response) isMessage()     {}
func (n *Notification) isMessage() {}

func (r *Request) wireArray() []any {
	return []any{TagRequest, r.Msgid, r.Method, paramsOrEmpty(r.Params)}
}

func (r *Response) wireArray() []any {
	return []any{TagResponse, r.Msgid, r.Error, r.Result}
}

func (n *Notification) wireArray() []any {
	return []any{TagNotification, n.Method, paramsOrEmpty(n.Params)}
}

func paramsOrEmpty(p []any) []any {
	if p == nil {
		return []any{}
	}
	return p
}

// NewRequest builds a Request message. Msgid is supplied by the caller
// (Client allocates it via an Indexer); Params may be nil, encoded as an
// empty array.
func NewRequest(msgid uint32, method string, params []any) *Request {
	return &Request{Msgid: msgid, Method: method, Params: params}
}

// NewResponse builds a successful Response: Error is nil, Result is v.
func NewResponse(msgid uint32, result any) *Response {
	return &Response{Msgid: msgid, Result: result}
}

// NewErrorResponse builds a failed Response: Result is nil, Error is
// errVal (already serialized to a MessagePack-encodable value by the
// caller's errorSerializer).
func NewErrorResponse(msgid uint32, errVal any) *Response {
	return &Response{Msgid: msgid, Error: errVal}
}

// NewNotification builds a Notification message.
func NewNotification(method string, params []any) *Notification {
	return &Notification{Method: method, Params: params}
}

// IsMessage reports whether v, a value freshly decoded off the wire, is
// a structurally valid MessagePack-RPC message: an array whose first
// element is 0, 1, or 2 and whose remaining elements match that
// variant's shape (spec.md §4.2). Values failing this check are not
// messages at all and must be routed to onInvalidMessage, never panic
// the caller.
func IsMessage(v any) bool {
	arr, ok := asAnySlice(v)
	if !ok || len(arr) == 0 {
		return false
	}
	tag, ok := asInt(arr[0])
	if !ok {
		return false
	}
	switch tag {
	case TagRequest:
		if len(arr) != 4 {
			return false
		}
		if _, ok := asUint32(arr[1]); !ok {
			return false
		}
		if _, ok := arr[2].(string); !ok {
			return false
		}
		_, ok := asAnySlice(arr[3])
		return ok
	case TagResponse:
		if len(arr) != 4 {
			return false
		}
		_, ok := asUint32(arr[1])
		return ok
	case TagNotification:
		if len(arr) != 3 {
			return false
		}
		if _, ok := arr[1].(string); !ok {
			return false
		}
		_, ok := asAnySlice(arr[2])
		return ok
	default:
		return false
	}
}

// classify converts a validated wire value (IsMessage(v) == true) into
// its concrete Message type. Callers must check IsMessage first; classify
// panics on a shape it cannot recognize, which IsMessage having passed
// rules out.
func classify(v any) Message {
	arr, _ := asAnySlice(v)
	tag, _ := asInt(arr[0])
	switch tag {
	case TagRequest:
		msgid, _ := asUint32(arr[1])
		method := arr[2].(string)
		params, _ := asAnySlice(arr[3])
		return &Request{Msgid: msgid, Method: method, Params: params}
	case TagResponse:
		msgid, _ := asUint32(arr[1])
		return &Response{Msgid: msgid, Error: arr[2], Result: arr[3]}
	case TagNotification:
		method := arr[1].(string)
		params, _ := asAnySlice(arr[2])
		return &Notification{Method: method, Params: params}
	default:
		panic(fmt.Sprintf("mprpc: classify called on non-message value %#v", v))
	}
}

// asAnySlice normalizes a decoded MessagePack array ([]interface{},
// i.e. []any, being the shape the codec hands back) into a plain []any.
func asAnySlice(v any) ([]any, bool) {
	t, ok := v.([]any)
	return t, ok
}

// asInt extracts an integer tag from a decoded value regardless of which
// concrete integer type the codec chose to represent it as.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case uint:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// asUint32 extracts a msgid, tolerating whichever signed/unsigned width
// the codec decoded it as.
func asUint32(v any) (uint32, bool) {
	switch t := v.(type) {
	case uint32:
		return t, true
	case uint64:
		return uint32(t), true
	case int64:
		return uint32(t), true
	case int:
		return uint32(t), true
	case float64:
		return uint32(t), true
	default:
		return 0, false
	}
}
