// Package codec serializes product metadata to the opaque payload stored on
// the ledger and back.
//
// The payload uses the protobuf wire format without generated code: every
// field is a tag followed by a varint or a length-prefixed value. Field 1 is
// the format version and must come first; the remaining fields appear at most
// once, in ascending order:
//
//	1 varint  format version (currently 1)
//	2 bytes   name
//	3 bytes   description (omitted when empty)
//	4 bytes   manufacture date YYYY-MM-DD (omitted when empty)
//	5 bytes   content link (omitted when absent)
//	6 bytes   attribute block (omitted when absent), repeated field 1 entries
//	          of {1: key, 2: value} with strictly ascending keys
//
// Encoding is canonical, so equal metadata always yields identical bytes.
// Decoding never trusts payload shape: anything outside this grammar fails
// with a malformed_metadata error.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
)

// Version is the payload format version written by Encode.
const Version = 1

// MaxPayloadSize bounds decoded payloads.
const MaxPayloadSize = 64 << 10

const (
	fieldVersion         protowire.Number = 1
	fieldName            protowire.Number = 2
	fieldDescription     protowire.Number = 3
	fieldManufactureDate protowire.Number = 4
	fieldContentLink     protowire.Number = 5
	fieldAttributes      protowire.Number = 6

	fieldAttributeEntry protowire.Number = 1
	fieldEntryKey       protowire.Number = 1
	fieldEntryValue     protowire.Number = 2
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed metadata payload")

// Encode validates m and returns its canonical payload.
func Encode(m *models.Metadata) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	b := protowire.AppendTag(nil, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	b = appendString(b, fieldName, m.Name)
	if m.Description != "" {
		b = appendString(b, fieldDescription, m.Description)
	}
	if m.ManufactureDate != "" {
		b = appendString(b, fieldManufactureDate, m.ManufactureDate)
	}
	if m.ContentLink != nil {
		b = appendString(b, fieldContentLink, *m.ContentLink)
	}
	if m.Attributes != nil {
		b = protowire.AppendTag(b, fieldAttributes, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeAttributes(m.Attributes))
	}
	return b, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func encodeAttributes(attrs map[string]string) []byte {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var block []byte
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, fieldEntryKey, k)
		entry = appendString(entry, fieldEntryValue, attrs[k])
		block = protowire.AppendTag(block, fieldAttributeEntry, protowire.BytesType)
		block = protowire.AppendBytes(block, entry)
	}
	// a present-but-empty map encodes as an empty block, distinct from absent
	if block == nil {
		block = []byte{}
	}
	return block
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (*models.Metadata, error) {
	if len(b) == 0 {
		return nil, malformed("empty payload")
	}
	if len(b) > MaxPayloadSize {
		return nil, malformed("payload exceeds %d bytes", MaxPayloadSize)
	}

	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, malformedErr(protowire.ParseError(n), "invalid version tag")
	}
	if num != fieldVersion || typ != protowire.VarintType {
		return nil, malformed("version must be the first field")
	}
	b = b[n:]
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, malformedErr(protowire.ParseError(n), "invalid version")
	}
	if v != Version {
		return nil, malformed("unsupported metadata version %d", v)
	}
	b = b[n:]

	m := &models.Metadata{}
	last := fieldVersion
	sawName := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformedErr(protowire.ParseError(n), "invalid field tag")
		}
		if num <= last {
			return nil, malformed("field %d out of order or duplicated", num)
		}
		if typ != protowire.BytesType {
			return nil, malformed("field %d has unexpected wire type %d", num, typ)
		}
		b = b[n:]
		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, malformedErr(protowire.ParseError(n), fmt.Sprintf("field %d truncated", num))
		}
		b = b[n:]

		switch num {
		case fieldName, fieldDescription, fieldManufactureDate, fieldContentLink:
			s, err := decodeString(num, val)
			if err != nil {
				return nil, err
			}
			switch num {
			case fieldName:
				m.Name = s
				sawName = true
			case fieldDescription:
				m.Description = s
			case fieldManufactureDate:
				m.ManufactureDate = s
			case fieldContentLink:
				m.ContentLink = &s
			}
		case fieldAttributes:
			attrs, err := decodeAttributes(val)
			if err != nil {
				return nil, err
			}
			m.Attributes = attrs
		default:
			return nil, malformed("unknown field %d", num)
		}
		last = num
	}

	if !sawName {
		return nil, malformed("name field missing")
	}
	if err := Validate(m); err != nil {
		return nil, malformedErr(err, "decoded metadata is invalid")
	}
	return m, nil
}

func decodeString(num protowire.Number, val []byte) (string, error) {
	if len(val) == 0 {
		return "", malformed("field %d must not be empty", num)
	}
	if !utf8.Valid(val) {
		return "", malformed("field %d is not valid UTF-8", num)
	}
	return string(val), nil
}

func decodeAttributes(block []byte) (map[string]string, error) {
	attrs := make(map[string]string)
	prevKey := ""
	for len(block) > 0 {
		num, typ, n := protowire.ConsumeTag(block)
		if n < 0 {
			return nil, malformedErr(protowire.ParseError(n), "invalid attribute tag")
		}
		if num != fieldAttributeEntry || typ != protowire.BytesType {
			return nil, malformed("unexpected field %d in attribute block", num)
		}
		block = block[n:]
		entry, n := protowire.ConsumeBytes(block)
		if n < 0 {
			return nil, malformedErr(protowire.ParseError(n), "attribute entry truncated")
		}
		block = block[n:]

		key, value, err := decodeEntry(entry)
		if err != nil {
			return nil, err
		}
		if len(attrs) > 0 && key <= prevKey {
			return nil, malformed("attribute keys out of order or duplicated")
		}
		attrs[key] = value
		prevKey = key
	}
	return attrs, nil
}

func decodeEntry(entry []byte) (string, string, error) {
	var fields [2][]byte
	for i, want := range []protowire.Number{fieldEntryKey, fieldEntryValue} {
		num, typ, n := protowire.ConsumeTag(entry)
		if n < 0 {
			return "", "", malformedErr(protowire.ParseError(n), "invalid attribute entry tag")
		}
		if num != want || typ != protowire.BytesType {
			return "", "", malformed("attribute entry field %d unexpected", num)
		}
		entry = entry[n:]
		val, n := protowire.ConsumeBytes(entry)
		if n < 0 {
			return "", "", malformedErr(protowire.ParseError(n), "attribute entry truncated")
		}
		entry = entry[n:]
		if !utf8.Valid(val) {
			return "", "", malformed("attribute entry is not valid UTF-8")
		}
		fields[i] = val
	}
	if len(entry) != 0 {
		return "", "", malformed("trailing bytes in attribute entry")
	}
	return string(fields[0]), string(fields[1]), nil
}

func malformed(format string, args ...any) error {
	return dErrors.Wrap(fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...),
		dErrors.CodeMalformedMetadata, "metadata payload is malformed")
}

func malformedErr(cause error, msg string) error {
	return dErrors.Wrap(fmt.Errorf("%w: %s: %w", ErrMalformed, msg, cause),
		dErrors.CodeMalformedMetadata, "metadata payload is malformed")
}
