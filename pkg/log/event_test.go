package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerEnvelope.String(), "ENVELOPE"},
		{LayerDispatch.String(), "DISPATCH"},
		{LayerLifecycle.String(), "LIFECYCLE"},
		{Layer(9).String(), "UNKNOWN"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryControl.String(), "CONTROL"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{Category(9).String(), "UNKNOWN"},
		{StateEntityDevice.String(), "DEVICE"},
		{StateEntitySession.String(), "SESSION"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntity(9).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewFrameEvent(t *testing.T) {
	small := []byte{1, 2, 3}
	fe := NewFrameEvent(small, true)
	if fe.Size != 3 || fe.Truncated || !fe.Secured || !bytes.Equal(fe.Data, small) {
		t.Errorf("frame = %+v", fe)
	}
	small[0] = 9
	if fe.Data[0] != 1 {
		t.Error("frame data aliases the input")
	}

	big := make([]byte, MaxFrameDataSize+10)
	fe = NewFrameEvent(big, false)
	if fe.Size != len(big) || !fe.Truncated || len(fe.Data) != MaxFrameDataSize {
		t.Errorf("size=%d truncated=%v len=%d", fe.Size, fe.Truncated, len(fe.Data))
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if len(a) != 36 || a == b {
		t.Errorf("trace ids %q %q", a, b)
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	took := 3 * time.Millisecond
	events := []Event{
		{
			Timestamp: time.Date(2026, 10, 17, 12, 0, 0, 123456789, time.UTC),
			TraceID:   "6f1c1e7e-4a55-4c1c-9b59-1d2f0c7d9a10",
			Direction: DirectionIn,
			Layer:     LayerTransport,
			Category:  CategoryMessage,
			DeviceID:  "0a0b0c0d0e0f101112131415",
			Topic:     "gateway",
			Frame:     &FrameEvent{Size: 3, Data: []byte{1, 0, 0}},
		},
		{
			Timestamp: time.Date(2026, 10, 17, 12, 0, 1, 0, time.UTC),
			Layer:     LayerDispatch,
			Command:   &CommandEvent{Tag: 0x04, Name: "CHECK", Size: 23, Duration: &took},
		},
		{
			Timestamp:   time.Date(2026, 10, 17, 12, 0, 2, 0, time.UTC),
			Layer:       LayerLifecycle,
			Category:    CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityDevice, OldState: "SRP", NewState: "DONE", Reason: "TRUSTED"},
		},
		{
			Timestamp: time.Date(2026, 10, 17, 12, 0, 3, 0, time.UTC),
			Layer:     LayerEnvelope,
			Category:  CategoryError,
			Error:     &ErrorEventData{Layer: LayerEnvelope, Message: "signature mismatch", Kind: "crypto"},
		},
	}

	for _, want := range events {
		data, err := marshalEvent(want)
		if err != nil {
			t.Fatalf("marshalEvent failed: %v", err)
		}
		var got Event
		if err := newEventDecoder(bytes.NewReader(data)).Decode(&got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}

		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
		}
		if got.TraceID != want.TraceID || got.Layer != want.Layer || got.Category != want.Category {
			t.Errorf("header = %+v, want %+v", got, want)
		}
		switch {
		case want.Frame != nil:
			if got.Frame == nil || !bytes.Equal(got.Frame.Data, want.Frame.Data) {
				t.Errorf("Frame = %+v", got.Frame)
			}
		case want.Command != nil:
			if got.Command == nil || got.Command.Name != "CHECK" || *got.Command.Duration != took {
				t.Errorf("Command = %+v", got.Command)
			}
		case want.StateChange != nil:
			if got.StateChange == nil || *got.StateChange != *want.StateChange {
				t.Errorf("StateChange = %+v", got.StateChange)
			}
		case want.Error != nil:
			if got.Error == nil || *got.Error != *want.Error {
				t.Errorf("Error = %+v", got.Error)
			}
		}
	}
}

func TestDecodeRejectsMalformedRecords(t *testing.T) {
	records := map[string][]byte{
		"garbage":            {0xFF, 0x00},
		"indefinite map":     {0xBF, 0xFF},
		"deeply nested":      bytes.Repeat([]byte{0x81}, 20),
		"duplicate trace id": {0xA2, 0x02, 0x61, 0x61, 0x02, 0x61, 0x62},
	}
	for name, rec := range records {
		var e Event
		if err := newEventDecoder(bytes.NewReader(rec)).Decode(&e); err == nil {
			t.Errorf("%s: record accepted", name)
		}
	}
}
