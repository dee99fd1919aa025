// Package payload models decoded source values for record import.
//
// A Payload is an immutable view over a decoded JSON document. Field
// extraction never panics: looking up an absent field yields a missing
// Payload whose accessors report ok=false, and the *Or helpers fall back to
// the supplied default.
//
// AsString accepts JSON strings only. The other accessors coerce between
// scalar types where the conversion is lossless:
//
//   - AsInt: integral numbers and decimal strings
//   - AsFloat: any number and numeric strings
//   - AsBool: booleans, "true"/"false" strings and the numbers 0/1
//
// Canonical and Hash give a stable content identity for a payload. Object
// keys are sorted by UTF-16 code units and strings are NFC normalized, so two
// payloads that decode to the same value always hash identically regardless
// of key order or whitespace in the source.
package payload
