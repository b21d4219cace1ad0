package crdt

import (
	"errors"
	"reflect"
	"testing"
)

func TestSyncRoundTrip(t *testing.T) {
	delta := fieldDelta("c1", "color", reg("red", 7, "alice"))

	msg, err := EncodeSync(SyncUpdate, delta)
	if err != nil {
		t.Fatalf("EncodeSync: %v", err)
	}

	tag, rest, err := Split(msg)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if tag != MessageSync {
		t.Fatalf("tag = %d, want %d", tag, MessageSync)
	}

	step, got, err := DecodeSync(rest)
	if err != nil {
		t.Fatalf("DecodeSync: %v", err)
	}
	if step != SyncUpdate {
		t.Fatalf("step = %d, want %d", step, SyncUpdate)
	}
	if !reflect.DeepEqual(got, delta) {
		t.Fatalf("delta mismatch:\nin  %+v\nout %+v", delta, got)
	}
}

func TestSplitEmptyMessage(t *testing.T) {
	if _, _, err := Split(nil); !errors.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestDecodeSyncMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "unknown step", payload: []byte{9, '{', '}'}},
		{name: "bad json", payload: []byte{SyncUpdate, 'n', 'o'}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := DecodeSync(tc.payload); !errors.Is(err, ErrProtocol) {
				t.Fatalf("err = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestAuthRoundTrip(t *testing.T) {
	msg := EncodeAuth(AuthAuthorized)
	tag, rest, err := Split(msg)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if tag != MessageAuth {
		t.Fatalf("tag = %d, want %d", tag, MessageAuth)
	}
	if got := DecodeAuth(rest); got != AuthAuthorized {
		t.Fatalf("status = %q, want %q", got, AuthAuthorized)
	}
}

func TestAwarenessApplyAndClear(t *testing.T) {
	aw := NewAwareness()
	if err := aw.Apply([]byte(`{"u1":{"cursor":[1,2]},"u2":{"cursor":[3,4]}}`)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(aw.States()) != 2 {
		t.Fatalf("states = %d, want 2", len(aw.States()))
	}
	if err := aw.Apply([]byte(`{"u1":null}`)); err != nil {
		t.Fatalf("Apply clear: %v", err)
	}
	states := aw.States()
	if _, ok := states["u1"]; ok {
		t.Error("u1 should be cleared")
	}
	if _, ok := states["u2"]; !ok {
		t.Error("u2 should remain")
	}

	if err := aw.Apply([]byte(`not json`)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("malformed update err = %v, want ErrProtocol", err)
	}
}
