// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 4096),
		Magic[:], // a payload that happens to contain the magic bytes
	}

	for _, payload := range payloads {
		reader := NewReader(bytes.NewReader(EncodeFrame(payload)), testLogger())
		decoded, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(%d bytes): %v", len(payload), err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("round trip of %d bytes altered payload", len(payload))
		}
	}
}

func TestResyncSkipsLeadingGarbage(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x00, 0xFF, 0x13, 0x37})
	stream.Write(EncodeFrame([]byte("hello")))

	reader := NewReader(&stream, testLogger())
	payload, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("payload = %q, want %q", payload, "hello")
	}
}

func TestScenarioTwoZeroBytesThenFrame(t *testing.T) {
	// 0x00 0x00 ++ MAGIC ++ 0x00000005 ++ "hello" decodes to "hello",
	// discarding the two leading zero bytes.
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x00})
	stream.Write(Magic[:])
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], 5)
	stream.Write(length[:])
	stream.WriteString("hello")

	reader := NewReader(&stream, testLogger())
	payload, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("payload = %q, want %q", payload, "hello")
	}
}

func TestMagicInLengthFieldIsNeverALength(t *testing.T) {
	// MAGIC ++ MAGIC ++ valid length ++ payload: the second magic
	// lands where the length belongs. The reader must not interpret
	// it as a byte count (which would be >1 GiB); it must recover and
	// produce the payload that follows.
	var stream bytes.Buffer
	stream.Write(Magic[:])
	stream.Write(Magic[:])
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], 5)
	stream.Write(length[:])
	stream.WriteString("hello")

	reader := NewReader(&stream, testLogger())
	payload, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("payload = %q, want %q", payload, "hello")
	}
}

func TestMagicInLengthFieldThenGarbageExhausts(t *testing.T) {
	// MAGIC ++ MAGIC ++ garbage with no later frame: decode must end
	// in EOF or ErrScanExhausted, never an attempt to read the magic
	// constant's numeric value worth of payload.
	var stream bytes.Buffer
	stream.Write(Magic[:])
	stream.Write(Magic[:])
	stream.Write(bytes.Repeat([]byte{0xEE}, 256))

	reader := NewReader(&stream, testLogger())
	reader.ScanWindow = 128

	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrScanExhausted) && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame error = %v, want ErrScanExhausted or EOF", err)
	}
}

func TestOversizeLengthResyncs(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Magic[:])
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], DefaultMaxPayload+1)
	stream.Write(length[:])
	stream.Write(EncodeFrame([]byte("after")))

	reader := NewReader(&stream, testLogger())
	payload, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(payload) != "after" {
		t.Fatalf("payload = %q, want %q", payload, "after")
	}
}

func TestScanWindowExhaustion(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xAA}, 1024)
	reader := NewReader(bytes.NewReader(garbage), testLogger())
	reader.ScanWindow = 512

	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrScanExhausted) {
		t.Fatalf("ReadFrame error = %v, want ErrScanExhausted", err)
	}
}

func TestEOFOnEmptyStream(t *testing.T) {
	reader := NewReader(bytes.NewReader(nil), testLogger())
	if _, err := reader.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame on empty stream = %v, want io.EOF", err)
	}
}

func TestEOFMidFrameIsEOF(t *testing.T) {
	// A frame truncated mid-payload means the peer went away; the
	// reader reports a closed stream, not a framing error.
	frame := EncodeFrame([]byte("truncated payload"))
	reader := NewReader(bytes.NewReader(frame[:len(frame)-4]), testLogger())
	if _, err := reader.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame on truncated frame = %v, want io.EOF", err)
	}
}

func TestConsecutiveFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(EncodeFrame([]byte("first")))
	stream.Write(EncodeFrame([]byte("second")))

	reader := NewReader(&stream, testLogger())
	for _, want := range []string{"first", "second"} {
		payload, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(payload) != want {
			t.Fatalf("payload = %q, want %q", payload, want)
		}
	}
}
