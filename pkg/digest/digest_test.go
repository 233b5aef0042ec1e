package digest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256BytesRoundTrip(t *testing.T) {
	d := SHA256Bytes([]byte("hello"))
	assert.Equal(t, SHA256, d.Algorithm)

	parsed, err := Parse(d.String())
	require.NoError(t, err)
	assert.True(t, d.Equal(parsed))
}

func TestFromReaderMatchesSumBytes(t *testing.T) {
	body := []byte("package body contents")
	want := SHA256Bytes(body)

	got, err := FromReader(SHA256, bytes.NewReader(body))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestParseRejectsUnsupportedAlgorithm(t *testing.T) {
	_, err := Parse("sha1-AAAA")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("not-a-sha256-digest")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = Parse("nodash")
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	d := SHA256Bytes([]byte("x"))
	b, err := d.MarshalJSON()
	require.NoError(t, err)

	var out Digest
	require.NoError(t, out.UnmarshalJSON(b))
	assert.True(t, d.Equal(out))
}

func TestZeroDigestMarshalsNull(t *testing.T) {
	var d Digest
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
