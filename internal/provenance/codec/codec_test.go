package codec

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
)

func testCID(t *testing.T, data string) string {
	t.Helper()
	sum, err := multihash.Sum([]byte(data), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum).String()
}

func ptr(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	c := testCID(t, "shoe spec sheet")
	cases := []struct {
		name string
		m    models.Metadata
	}{
		{"name only", models.Metadata{Name: "Shoe"}},
		{"all text fields", models.Metadata{Name: "Shoe", Description: "Running shoe", ManufactureDate: "2024-03-01"}},
		{"ipfs link", models.Metadata{Name: "Shoe", ContentLink: ptr("ipfs://" + c + "/spec.json")}},
		{"bare cid link", models.Metadata{Name: "Shoe", ContentLink: ptr(c)}},
		{"https link", models.Metadata{Name: "Shoe", ContentLink: ptr("https://example.com/shoe.json")}},
		{"attributes", models.Metadata{Name: "Shoe", Attributes: map[string]string{"size": "42", "color": "red", "lot": ""}}},
		{"empty attributes stay present", models.Metadata{Name: "Shoe", Attributes: map[string]string{}}},
		{"unicode", models.Metadata{Name: "靴", Description: "ünïcödé", Attributes: map[string]string{"産地": "日本"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(&tc.m)
			require.NoError(t, err)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, &tc.m, got)
		})
	}
}

func TestOptionalFieldsDecodeAsAbsent(t *testing.T) {
	b, err := Encode(&models.Metadata{Name: "Shoe"})
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Nil(t, got.ContentLink)
	assert.Nil(t, got.Attributes)
}

func TestEncodeIsDeterministic(t *testing.T) {
	m := &models.Metadata{Name: "Shoe", Attributes: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"}}
	first, err := Encode(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Encode(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEncodeRejectsInvalidMetadata(t *testing.T) {
	cases := map[string]*models.Metadata{
		"nil":          nil,
		"missing name": {Description: "x"},
		"blank name":   {Name: "   "},
		"bad date":     {Name: "Shoe", ManufactureDate: "01/03/2024"},
		"empty link":   {Name: "Shoe", ContentLink: ptr("")},
		"bogus link":   {Name: "Shoe", ContentLink: ptr("not a link")},
		"empty key":    {Name: "Shoe", Attributes: map[string]string{"": "v"}},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(m)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func tag(b []byte, num protowire.Number, typ protowire.Type) []byte {
	return protowire.AppendTag(b, num, typ)
}

func versioned(v uint64) []byte {
	return protowire.AppendVarint(tag(nil, fieldVersion, protowire.VarintType), v)
}

func withString(b []byte, num protowire.Number, s string) []byte {
	return protowire.AppendString(tag(b, num, protowire.BytesType), s)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	valid, err := Encode(&models.Metadata{Name: "Shoe", Description: "d"})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":               nil,
		"garbage":             []byte{0xff, 0xff, 0xff},
		"future version":      withString(versioned(2), fieldName, "Shoe"),
		"version not first":   withString(nil, fieldName, "Shoe"),
		"missing name":        withString(versioned(1), fieldDescription, "d"),
		"empty name":          withString(versioned(1), fieldName, ""),
		"unknown field":       withString(withString(versioned(1), fieldName, "Shoe"), 9, "x"),
		"duplicate field":     withString(withString(versioned(1), fieldName, "Shoe"), fieldName, "Boot"),
		"out of order":        withString(withString(versioned(1), fieldDescription, "d"), fieldName, "Shoe"),
		"wrong wire type":     protowire.AppendVarint(tag(versioned(1), fieldName, protowire.VarintType), 1),
		"truncated":           valid[:len(valid)-1],
		"invalid utf8":        withString(versioned(1), fieldName, string([]byte{0xc3, 0x28})),
		"non canonical empty": withString(withString(versioned(1), fieldName, "Shoe"), fieldDescription, ""),
		"bad date":            withString(withString(versioned(1), fieldName, "Shoe"), fieldManufactureDate, "yesterday"),
		"oversized":           make([]byte, MaxPayloadSize+1),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeMalformedMetadata), "got %v", err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeRejectsUnsortedAttributes(t *testing.T) {
	entry := func(k, v string) []byte {
		e := withString(nil, fieldEntryKey, k)
		return withString(e, fieldEntryValue, v)
	}
	var block []byte
	for _, e := range [][]byte{entry("b", "2"), entry("a", "1")} {
		block = protowire.AppendBytes(tag(block, fieldAttributeEntry, protowire.BytesType), e)
	}
	payload := withString(versioned(1), fieldName, "Shoe")
	payload = protowire.AppendBytes(tag(payload, fieldAttributes, protowire.BytesType), block)

	_, err := Decode(payload)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMalformedMetadata))
}
