package backend_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/bridge/backend"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      backend.Kind
		retryable bool
	}{
		{"transport", backend.Transport(errors.New("connection refused")), backend.KindTransport, true},
		{"timeout", backend.Timeout(context.DeadlineExceeded), backend.KindTimeout, true},
		{"rejected", backend.Rejected(400, "bad year"), backend.KindRejected, false},
		{"wrapped rejected", fmt.Errorf("submit: %w", backend.Rejected(422, "")), backend.KindRejected, false},
		{"bare deadline", context.DeadlineExceeded, backend.KindTimeout, true},
		{"unclassified", errors.New("boom"), backend.KindTransport, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backend.KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf = %s, want %s", got, tt.kind)
			}
			if got := backend.IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}

	if backend.IsRetryable(nil) {
		t.Error("IsRetryable(nil) = true")
	}
}

func TestErrorMessage(t *testing.T) {
	err := backend.Rejected(400, "unknown type")
	if got, want := err.Error(), "backend: rejected (status 400): unknown type"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("dial tcp: refused")
	terr := backend.Transport(cause)
	if !errors.Is(terr, cause) {
		t.Error("Transport error does not unwrap to its cause")
	}
}

func TestCodecs(t *testing.T) {
	for _, name := range []string{backend.CodecNameJSON, backend.CodecNameMsgpack} {
		t.Run(name, func(t *testing.T) {
			c := backend.GetCodec(name)
			if c.Name() != name {
				t.Fatalf("GetCodec(%q).Name() = %q", name, c.Name())
			}
			if _, err := c.Encode(backend.Params{Year: "2025", Type: "lab"}); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if _, err := c.Decode([]byte{0xc1}); err == nil {
				t.Error("Decode accepted garbage")
			}
		})
	}

	if backend.GetCodec("protobuf").Name() != backend.CodecNameJSON {
		t.Error("unknown codec should fall back to json")
	}

	reply, err := backend.JSONCodec{}.Decode([]byte(`{"run_id":"abc"}`))
	if err != nil || reply.RunID != "abc" {
		t.Errorf("Decode = %+v, %v", reply, err)
	}
	reply, err = backend.JSONCodec{}.Decode([]byte(`{"run_id":7,"error":"late"}`))
	if err != nil || reply.RunID != "7" || reply.Error != "late" {
		t.Errorf("Decode numeric = %+v, %v", reply, err)
	}
	if _, err := (backend.JSONCodec{}).Decode([]byte(`{"run_id":{"n":1}}`)); err == nil {
		t.Error("Decode accepted an object run_id")
	}
}
