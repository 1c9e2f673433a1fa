package lightserial

import (
	"bytes"
	"reflect"
	"testing"

	"libdb.so/lightshow/internal/lights"
)

func TestIncomingPackets(t *testing.T) {
	ctx := ReadContext{NumChannels: 10}

	packets := []IncomingPacket{
		InitializePacket{NumChannels: 10},
		ClearPacket{},
		FillPacket{},
		NewSetPacket(lights.States{true, false, true, false, false, false, false, false, false, true}),
	}

	var buf bytes.Buffer
	for _, p := range packets {
		if err := WriteIncomingPacket(&buf, p); err != nil {
			t.Fatalf("write %s: %v", p.Type(), err)
		}
	}

	for _, want := range packets {
		got, err := ReadIncomingPacket(&buf, ctx)
		if err != nil {
			t.Fatalf("read %s: %v", want.Type(), err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("read %#v, want %#v", got, want)
		}
	}

	if buf.Len() != 0 {
		t.Fatalf("%d bytes left over", buf.Len())
	}
}

func TestSetPacketStates(t *testing.T) {
	s := lights.States{false, true, true, false, false, false, false, false, true}
	if got := NewSetPacket(s).States(len(s)); !got.Equal(s) {
		t.Fatalf("States() = %s, want %s", got, s)
	}
}

func TestOutgoingPackets(t *testing.T) {
	packets := []OutgoingPacket{
		LogPacket{Message: "booted"},
		AckPacket{IncomingPacketType: TypeSetPacket},
		ErrorPacket{Message: "invalid number of channels: 0"},
		PanicPacket{},
	}

	var buf bytes.Buffer
	for _, p := range packets {
		if err := WriteOutgoingPacket(&buf, p); err != nil {
			t.Fatalf("write %s: %v", p.Type(), err)
		}
	}

	for _, want := range packets {
		got, err := ReadOutgoingPacket(&buf)
		if err != nil {
			t.Fatalf("read %s: %v", want.Type(), err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("read %#v, want %#v", got, want)
		}
	}
}

func TestChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteIncomingPacket(&buf, InitializePacket{NumChannels: 8}); err != nil {
		t.Fatal(err)
	}

	b := buf.Bytes()
	b[1] ^= 0xFF

	if _, err := ReadIncomingPacket(bytes.NewReader(b), ReadContext{}); err == nil {
		t.Fatal("expected checksum error for a corrupted packet")
	}
}

func TestUnknownPacketType(t *testing.T) {
	if _, err := ReadOutgoingPacket(bytes.NewReader([]byte{0xEE, 0, 0, 0, 0})); err == nil {
		t.Fatal("expected error for unknown packet type")
	}
}
