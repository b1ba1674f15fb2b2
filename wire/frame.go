// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Magic is the frame header constant: "QTX" followed by the protocol
// version byte. The reader scans for this sequence to find frame
// boundaries in a stream that may contain stale or corrupt bytes.
var Magic = [4]byte{'Q', 'T', 'X', 0x01}

// headerSize is the fixed number of bytes before the payload: the
// magic constant plus the big-endian length.
const headerSize = 8

// DefaultMaxPayload bounds a single frame's payload. Lengths above
// this are treated as corruption, protecting the reader from
// allocating whatever a garbage length field happens to say.
const DefaultMaxPayload = 16 << 20 // 16 MiB

// DefaultScanWindow bounds the bytes consumed by resync scanning
// before the reader gives up. The value is a tunable, not a protocol
// invariant: large enough to skip a previous session's leftovers,
// small enough that a dead channel is detected promptly.
const DefaultScanWindow = 64 << 10 // 64 KiB

// ErrScanExhausted is returned when the resync scan window is consumed
// without producing a valid frame. It means the channel is spewing
// garbage rather than momentarily desynced; callers must tear the
// connection down rather than keep reading.
var ErrScanExhausted = errors.New("wire: no valid frame within resync scan window")

// EncodeFrame returns payload wrapped in a frame: magic, big-endian
// length, payload. No length limit is enforced here; message-level
// encoding guards the maximum.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, headerSize+len(payload))
	copy(frame, Magic[:])
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame
}

// Reader decodes frames from a byte stream, resynchronizing on
// corruption. It owns the read side of the stream exclusively; it is
// not safe for concurrent use.
type Reader struct {
	// MaxPayload is the largest payload length the reader will accept.
	// Larger length fields are treated as corruption.
	MaxPayload uint32

	// ScanWindow bounds the bytes consumed by resync before the reader
	// reports ErrScanExhausted.
	ScanWindow int

	br     *bufio.Reader
	logger *slog.Logger
}

// NewReader returns a Reader with the default payload and scan limits.
// Adjust MaxPayload and ScanWindow before the first read if needed.
func NewReader(r io.Reader, logger *slog.Logger) *Reader {
	return &Reader{
		MaxPayload: DefaultMaxPayload,
		ScanWindow: DefaultScanWindow,
		br:         bufio.NewReader(r),
		logger:     logger,
	}
}

// ReadFrame returns the next frame payload, scanning past garbage to
// the next magic header as needed. Returns io.EOF when the stream
// closes (including mid-frame: a partial frame at EOF is a closed
// connection, not a protocol error), and ErrScanExhausted when the
// scan window is consumed without finding a valid frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	scanned := 0
	return r.readFrame(&scanned)
}

// readFrame is ReadFrame with an externally owned scan budget, so
// ReadMessage can charge discarded undecodable payloads against the
// same window.
func (r *Reader) readFrame(scanned *int) ([]byte, error) {
	for {
		// Scan byte-at-a-time for the magic sequence. A mismatching
		// byte that equals the first magic byte restarts the match at
		// 1, so overlapping magic-like runs are handled correctly.
		consumed := 0
		matched := 0
		for matched < len(Magic) {
			b, err := r.br.ReadByte()
			if err != nil {
				return nil, eofOr(err, "reading frame header")
			}
			consumed++
			*scanned++
			if *scanned > r.ScanWindow {
				return nil, ErrScanExhausted
			}
			switch {
			case b == Magic[matched]:
				matched++
			case b == Magic[0]:
				matched = 1
			default:
				matched = 0
			}
		}
		if consumed > len(Magic) {
			r.logger.Warn("frame resync: skipped garbage bytes",
				"garbage_bytes", consumed-len(Magic))
		}

		var lenBuf [4]byte
		for {
			if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
				return nil, eofOr(err, "reading frame length")
			}
			if lenBuf != Magic {
				break
			}
			// Stale magic bytes landed in the length slot. These four
			// bytes are themselves a complete header, so read the next
			// four as the length instead of trusting them as a count.
			*scanned += 4
			if *scanned > r.ScanWindow {
				return nil, ErrScanExhausted
			}
			r.logger.Warn("frame resync: magic constant in length field")
		}

		length := binary.BigEndian.Uint32(lenBuf[:])
		if length > r.MaxPayload {
			*scanned += headerSize
			if *scanned > r.ScanWindow {
				return nil, ErrScanExhausted
			}
			r.logger.Warn("frame resync: length exceeds maximum",
				"length", length, "max", r.MaxPayload)
			continue
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r.br, payload); err != nil {
			return nil, eofOr(err, "reading frame payload")
		}
		return payload, nil
	}
}

// ReadMessage returns the next decodable Message, absorbing frames
// whose payloads fail to decode as corruption. Discarded payload bytes
// count against the scan window, so a stream of well-framed garbage
// still terminates with ErrScanExhausted.
func (r *Reader) ReadMessage() (*Message, error) {
	scanned := 0
	for {
		payload, err := r.readFrame(&scanned)
		if err != nil {
			return nil, err
		}

		message, err := decodeMessage(payload)
		if err == nil {
			return message, nil
		}

		scanned += headerSize + len(payload)
		if scanned > r.ScanWindow {
			return nil, ErrScanExhausted
		}
		r.logger.Warn("frame resync: undecodable payload",
			"length", len(payload), "error", err)
	}
}

// eofOr maps end-of-stream conditions to io.EOF and wraps everything
// else. A stream that closes mid-frame is a closed connection, which
// callers handle identically to a clean EOF.
func eofOr(err error, while string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return fmt.Errorf("%s: %w", while, err)
}
