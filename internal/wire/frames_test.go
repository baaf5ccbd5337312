package wire

import (
	"encoding/json"
	"testing"
)

func TestDecodeKnownFrames(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, v any)
	}{
		{
			name: "message",
			data: `{"type":"message","from":"bob","to":"me","text":"hi","ts":100,"id":42}`,
			check: func(t *testing.T, v any) {
				f, ok := v.(*MessageEvent)
				if !ok {
					t.Fatalf("got %T, want *MessageEvent", v)
				}
				if f.From != "bob" || f.ID != 42 || f.TS != 100 {
					t.Errorf("decoded: %+v", f)
				}
			},
		},
		{
			name: "delivered",
			data: `{"type":"message_delivered","to":"bob","id":7}`,
			check: func(t *testing.T, v any) {
				f, ok := v.(*MessageDelivered)
				if !ok || f.To != "bob" || f.ID != 7 {
					t.Errorf("decoded: %#v", v)
				}
			},
		},
		{
			name: "blocked defaults reason",
			data: `{"type":"message_blocked","to":"bob"}`,
			check: func(t *testing.T, v any) {
				f, ok := v.(*MessageBlocked)
				if !ok || f.Reason != "blocked" {
					t.Errorf("decoded: %#v", v)
				}
			},
		},
		{
			name: "history result keeps absent has_more",
			data: `{"type":"history_result","peer":"bob","rows":[{"from":"bob","text":"a","ts":1,"id":2}]}`,
			check: func(t *testing.T, v any) {
				f, ok := v.(*HistoryResult)
				if !ok {
					t.Fatalf("got %T, want *HistoryResult", v)
				}
				if f.HasMore != nil || f.BeforeID != nil {
					t.Errorf("optional paging fields should be nil when omitted: %+v", f)
				}
				if len(f.Rows) != 1 || f.Rows[0].ID != 2 {
					t.Errorf("rows: %+v", f.Rows)
				}
			},
		},
		{
			name: "read ack",
			data: `{"type":"message_read_ack","peer":"bob","up_to_id":9}`,
			check: func(t *testing.T, v any) {
				f, ok := v.(*MessageReadAck)
				if !ok || f.Peer != "bob" || f.UpToID != 9 {
					t.Errorf("decoded: %#v", v)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.data))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tt.check(t, v)
		})
	}
}

func TestDecodeUnknownTypeIsNoOp(t *testing.T) {
	v, err := Decode([]byte(`{"type":"fancy_new_thing","x":1}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v != nil {
		t.Errorf("got %#v, want nil for unknown type", v)
	}
}

func TestDecodeRejectsGarbageAndMissingFields(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := Decode([]byte(`{"type":"message","text":"no sender"}`)); err == nil {
		t.Error("expected error for message without from")
	}
	if _, err := Decode([]byte(`{"type":"history_result","rows":[]}`)); err == nil {
		t.Error("expected error for history_result without target")
	}
}

func TestOutgoingShapes(t *testing.T) {
	b, err := json.Marshal(NewSendDM("bob", "hi", true))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"send","to":"bob","text":"hi","silent":true}`
	if string(b) != want {
		t.Errorf("send frame = %s, want %s", b, want)
	}

	b, _ = json.Marshal(NewPeerRead("bob", 0))
	if string(b) != `{"type":"message_read","peer":"bob"}` {
		t.Errorf("read frame = %s (up_to_id must be omitted when 0)", b)
	}

	b, _ = json.Marshal(NewPing())
	if string(b) != `{"type":"ping"}` {
		t.Errorf("ping frame = %s", b)
	}
}
