// Package schema is the key-schema interface the B-tree core treats
// opaquely: field count, payload (de)serialization, and per-field ordering.
// The datum/record value system proper lives outside this module's scope;
// this package only supplies what the core needs to build and compare keys.
package schema

import "github.com/tuannm99/novasql/internal/alias/bx"

// FieldValue is one field of a key tuple. The core never inspects the
// concrete type; it is opaque except through the schema's own comparators.
type FieldValue any

// KeySchema describes how a tuple of field values is laid out as bytes and
// ordered. Implementations are expected to be stateless and safe for
// concurrent use by independent tree operations.
type KeySchema interface {
	NumFields() int

	// PayloadSize returns the number of bytes WritePayload will write for
	// values. len(values) may be less than NumFields() for a prefix key
	// (used by range-scan bounds).
	PayloadSize(values []FieldValue) int

	// WritePayload serializes values into out, which must be at least
	// PayloadSize(values) bytes, and returns the number of bytes written.
	WritePayload(values []FieldValue, out []byte) int

	// DissemblePayload is WritePayload's inverse: it reads as many fields as
	// fit in payload, which may be a prefix of a full key.
	DissemblePayload(payload []byte) []FieldValue

	// Less and Equal compare the field-th values of two field slices
	// produced by DissemblePayload (or built directly by a caller).
	Less(field int, a, b FieldValue) bool
	Equal(field int, a, b FieldValue) bool
}

// Int64Schema is a single-field key schema over fixed-width 64-bit signed
// integers, encoded big-endian with the sign bit flipped so that
// byte-lexicographic order matches signed integer order — the same convention
// internal/alias/bx documents its BE helpers for.
type Int64Schema struct{}

func (Int64Schema) NumFields() int { return 1 }

func (Int64Schema) PayloadSize(values []FieldValue) int {
	if len(values) == 0 {
		return 0
	}
	return 8
}

func (Int64Schema) WritePayload(values []FieldValue, out []byte) int {
	if len(values) == 0 {
		return 0
	}
	v := uint64(values[0].(int64)) ^ (1 << 63) // flip sign bit for order-preserving encoding
	bx.PutU64BE(out, v)
	return 8
}

func (Int64Schema) DissemblePayload(payload []byte) []FieldValue {
	if len(payload) < 8 {
		return nil
	}
	v := bx.U64BE(payload) ^ (1 << 63)
	return []FieldValue{int64(v)}
}

func (Int64Schema) Less(_ int, a, b FieldValue) bool {
	return a.(int64) < b.(int64)
}

func (Int64Schema) Equal(_ int, a, b FieldValue) bool {
	return a.(int64) == b.(int64)
}

// VarcharSchema is a single-field key schema over UTF-8 strings, encoded as
// a 4-byte big-endian length prefix followed by the raw bytes. Comparison is
// ordinary byte-lexicographic string order.
type VarcharSchema struct{}

func (VarcharSchema) NumFields() int { return 1 }

func (VarcharSchema) PayloadSize(values []FieldValue) int {
	if len(values) == 0 {
		return 0
	}
	return 4 + len(values[0].(string))
}

func (VarcharSchema) WritePayload(values []FieldValue, out []byte) int {
	if len(values) == 0 {
		return 0
	}
	s := values[0].(string)
	bx.PutU32BE(out, uint32(len(s)))
	copy(out[4:], s)
	return 4 + len(s)
}

func (VarcharSchema) DissemblePayload(payload []byte) []FieldValue {
	if len(payload) < 4 {
		return nil
	}
	n := int(bx.U32BE(payload))
	if 4+n > len(payload) {
		return nil
	}
	s := string(payload[4 : 4+n])
	return []FieldValue{s}
}

func (VarcharSchema) Less(_ int, a, b FieldValue) bool {
	return a.(string) < b.(string)
}

func (VarcharSchema) Equal(_ int, a, b FieldValue) bool {
	return a.(string) == b.(string)
}
