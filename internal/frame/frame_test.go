package frame

import (
	"bytes"
	"io"
	"testing"
)

func roundTrip(t *testing.T, f *Frame) *Frame {
	t.Helper()
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := fr.WriteFrame(f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return got
}

func TestDataFrameRoundTrip(t *testing.T) {
	body := []byte{0xde, 0xad, 0xbe, 0xef}
	f := NewData(7, body, FlagSyn)
	got := roundTrip(t, f)

	if got.Tag != TagData || got.StreamId != 7 || !got.Syn() || got.Fin() {
		t.Fatalf("unexpected header: %+v", got.Header)
	}
	if !bytes.Equal(got.Body, body) {
		t.Fatalf("body mismatch: got %x want %x", got.Body, body)
	}
}

func TestDataFrameZeroLength(t *testing.T) {
	f := NewData(3, nil, FlagFin)
	got := roundTrip(t, f)
	if got.Length != 0 || !got.Fin() || len(got.Body) != 0 {
		t.Fatalf("unexpected frame: %+v body=%x", got.Header, got.Body)
	}
}

func TestWindowUpdateRoundTrip(t *testing.T) {
	f := NewWindowUpdate(9, 1<<18, FlagAck)
	got := roundTrip(t, f)
	if got.Tag != TagWindowUpdate || got.Credit() != 1<<18 || !got.Ack() {
		t.Fatalf("unexpected frame: %+v", got.Header)
	}
}

func TestPingRoundTrip(t *testing.T) {
	f := NewPing(0xcafef00d, true)
	got := roundTrip(t, f)
	if got.Tag != TagPing || got.StreamId != SessionID || got.Nonce() != 0xcafef00d || !got.Ack() {
		t.Fatalf("unexpected frame: %+v", got.Header)
	}
}

func TestGoAwayRoundTrip(t *testing.T) {
	f := NewGoAway(ErrorProtocol)
	got := roundTrip(t, f)
	if got.Tag != TagGoAway || got.StreamId != SessionID || got.Code() != ErrorProtocol {
		t.Fatalf("unexpected frame: %+v", got.Header)
	}
}

func TestUnsupportedVersionRejected(t *testing.T) {
	var buf bytes.Buffer
	hdr := Header{Tag: TagPing, StreamId: SessionID, Length: 1}
	hb := hdr.encode()
	hb[0] = 1 // corrupt version
	buf.Write(hb[:])

	fr := NewFramer(&buf, io.Discard)
	if _, err := fr.ReadFrame(); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestShortHeaderIsUnexpectedEOF(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 1, 2})
	fr := NewFramer(buf, io.Discard)
	if _, err := fr.ReadFrame(); err != io.ErrUnexpectedEOF && err != io.EOF {
		t.Fatalf("expected EOF-ish error, got %v", err)
	}
}
