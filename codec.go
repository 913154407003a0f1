package mprpc

import (
	"context"
	"io"
	"reflect"

	"github.com/hashicorp/go-msgpack/codec"
)

// Reader abstracts the transport mechanics of decoding one
// MessagePack-RPC message at a time, mirroring jsonrpc2_v2's Reader
// interface generalized to the three-variant MessagePack-RPC wire form.
// A Reader is not safe for concurrent use; the Session's consumer
// pipeline is its only caller.
type Reader interface {
	// ReadMessage decodes the next complete MessagePack item from the
	// stream. If the item decodes but is not a structurally valid
	// MessagePack-RPC message, it returns a *InvalidMessageError
	// wrapping the raw decoded value rather than terminating the
	// stream — spec.md's invalid-frame tolerance (§8 scenario 6).
	ReadMessage(ctx context.Context) (Message, error)
}

// Writer abstracts the transport mechanics of encoding one
// MessagePack-RPC message at a time.
type Writer interface {
	WriteMessage(ctx context.Context, m Message) error
}

// InvalidMessageError wraps a value that decoded successfully as
// MessagePack but failed the structural MessagePack-RPC check
// (spec.md §4.2). Session routes these to onInvalidMessage and keeps
// reading.
type InvalidMessageError struct {
	Value any
}

func (e *InvalidMessageError) Error() string {
	return "mprpc: decoded value is not a MessagePack-RPC message"
}

// msgpackHandle is the single shared codec configuration this module
// uses for both directions, matching boxcast-serf's RPC client exactly:
// RawToString decodes msgpack raw/bin as Go strings (method names and
// string params arrive usable, not as []byte), WriteExt allows values
// implementing msgpack extension interfaces to round-trip. MapType is
// pinned to map[string]interface{} — without it this codec fork hands
// decoded maps back as map[interface{}]interface{}, which defeats the
// map[string]any type switch defaultErrorDeserializer relies on to pull
// WireError.Message back out of a decoded error payload.
func msgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{RawToString: true, WriteExt: true}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	return h
}

type streamReader struct {
	dec *codec.Decoder
}

type streamWriter struct {
	enc *codec.Encoder
}

// NewStreamCodec builds the Reader/Writer pair a Session needs directly
// from byte streams, using github.com/hashicorp/go-msgpack/codec as the
// concrete DecodeStream/EncodeStream collaborator spec.md §4.1 leaves
// abstract.
func NewStreamCodec(r io.Reader, w io.Writer) (Reader, Writer) {
	h := msgpackHandle()
	return &streamReader{dec: codec.NewDecoder(r, h)}, &streamWriter{enc: codec.NewEncoder(w, h)}
}

func (s *streamReader) ReadMessage(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var raw any
	if err := s.dec.Decode(&raw); err != nil {
		return nil, err
	}
	if !IsMessage(raw) {
		return nil, &InvalidMessageError{Value: raw}
	}
	return classify(raw), nil
}

func (s *streamWriter) WriteMessage(ctx context.Context, m Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return s.enc.Encode(m.wireArray())
}
