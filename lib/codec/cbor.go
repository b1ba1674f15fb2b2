// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration for the
// guest channel protocol.
//
// Frame payloads on the wire are CBOR. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical message
// always produces identical bytes, which keeps byte-level protocol
// tests stable. The decoder accepts standard CBOR and silently ignores
// unknown fields so older agents interoperate with newer hosts and
// vice versa.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Message bodies never use non-string map keys. When the
		// decoder's target is any, pick map[string]any rather than the
		// CBOR default map[interface{}]interface{}, which most Go code
		// cannot consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. It delays decoding of a
// message body until the receiver knows the concrete type for the
// message kind. Type alias so consumers import only lib/codec, not
// fxamacker/cbor directly.
type RawMessage = cbor.RawMessage
