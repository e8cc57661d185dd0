package address

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressStringRoundTrip(t *testing.T) {
	a, err := FromPublicKey(bytes.Repeat([]byte{0xab}, PublicKeySize))
	require.NoError(t, err)

	s := a.String()
	assert.Len(t, s, 58)

	decoded, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, a, decoded)
	assert.Equal(t, a.PublicKey(), decoded.PublicKey())
}

func TestZeroAddressString(t *testing.T) {
	assert.Equal(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAY5HFKQ", Zero.String())
	assert.True(t, Zero.IsZero())
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	a, err := FromPublicKey(bytes.Repeat([]byte{1}, PublicKeySize))
	require.NoError(t, err)
	s := []byte(a.String())
	if s[0] == 'A' {
		s[0] = 'B'
	} else {
		s[0] = 'A'
	}

	_, err = Decode(string(s))
	assert.True(t, errors.Is(err, ErrChecksum), "got %v", err)

	_, err = Decode("too-short")
	assert.Error(t, err)
}

func TestFromPublicKeyLength(t *testing.T) {
	_, err := FromPublicKey(make([]byte, 31))
	assert.Error(t, err)
}

func TestAddressText(t *testing.T) {
	a, err := FromPublicKey(bytes.Repeat([]byte{9}, PublicKeySize))
	require.NoError(t, err)

	text, err := a.MarshalText()
	require.NoError(t, err)
	var b Address
	require.NoError(t, b.UnmarshalText(text))
	assert.Equal(t, a, b)
}

func TestHashAndDigest(t *testing.T) {
	assert.Equal(t, Hash([]byte("TXabc")), Hash([]byte("TX"), []byte("abc")))

	d := Hash([]byte("x"))
	assert.False(t, d.IsZero())
	assert.Len(t, d.String(), 52)

	parsed, err := DecodeDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	var text Digest
	raw, err := d.MarshalText()
	require.NoError(t, err)
	require.NoError(t, text.UnmarshalText(raw))
	assert.Equal(t, d, text)

	_, err = DecodeDigest(Zero.String())
	assert.Error(t, err, "address string is not a digest")
}
