package mprpc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsMessage(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want bool
	}{
		{"valid request", []any{0, uint32(1), "sum", []any{1, 2}}, true},
		{"valid response with error", []any{1, uint32(1), "boom", nil}, true},
		{"valid response with result", []any{1, uint32(1), nil, 3}, true},
		{"valid notification", []any{2, "sum", []any{1, 2}}, true},
		{"not an array", "invalid", false},
		{"empty array", []any{}, false},
		{"unknown tag", []any{3, "bad"}, false},
		{"request missing params", []any{0, uint32(1), "sum"}, false},
		{"request method not string", []any{0, uint32(1), 42, []any{}}, false},
		{"request params not array", []any{0, uint32(1), "sum", "nope"}, false},
		{"notification missing params", []any{2, "sum"}, false},
		{"response wrong length", []any{1, uint32(1), nil}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsMessage(tc.v); got != tc.want {
				t.Errorf("IsMessage(%#v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	req := classify([]any{0, uint32(7), "sum", []any{1, 2}})
	want := &Request{Msgid: 7, Method: "sum", Params: []any{1, 2}}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("classify request mismatch (-want +got):\n%s", diff)
	}

	resp := classify([]any{1, uint32(7), nil, 3})
	wantResp := &Response{Msgid: 7, Error: nil, Result: 3}
	if diff := cmp.Diff(wantResp, resp); diff != "" {
		t.Errorf("classify response mismatch (-want +got):\n%s", diff)
	}

	notif := classify([]any{2, "sum", []any{1, 2}})
	wantNotif := &Notification{Method: "sum", Params: []any{1, 2}}
	if diff := cmp.Diff(wantNotif, notif); diff != "" {
		t.Errorf("classify notification mismatch (-want +got):\n%s", diff)
	}
}

func TestWireArrayShapes(t *testing.T) {
	req := NewRequest(1, "sum", []any{1, 2})
	if diff := cmp.Diff([]any{TagRequest, uint32(1), "sum", []any{1, 2}}, req.wireArray()); diff != "" {
		t.Errorf("request wire shape mismatch (-want +got):\n%s", diff)
	}

	resp := NewResponse(1, 3)
	if diff := cmp.Diff([]any{TagResponse, uint32(1), any(nil), any(3)}, resp.wireArray()); diff != "" {
		t.Errorf("response wire shape mismatch (-want +got):\n%s", diff)
	}

	notif := NewNotification("sum", []any{1, 2})
	if diff := cmp.Diff([]any{TagNotification, "sum", []any{1, 2}}, notif.wireArray()); diff != "" {
		t.Errorf("notification wire shape mismatch (-want +got):\n%s", diff)
	}
}

func TestWireArrayNilParamsEncodeAsEmptyArray(t *testing.T) {
	req := NewRequest(1, "ping", nil)
	arr := req.wireArray()
	params, ok := arr[3].([]any)
	if !ok || len(params) != 0 {
		t.Fatalf("expected empty array params, got %#v", arr[3])
	}
}
