package aead

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef")

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 3610 packet vector #1 (M=8, L=2).
func TestKnownAnswerRFC3610(t *testing.T) {
	key := mustHex(t, "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf")
	nonce := mustHex(t, "00000003020100a0a1a2a3a4a5")
	aad := mustHex(t, "0001020304050607")
	plaintext := mustHex(t, "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e")
	want := mustHex(t, "588c979a61c663d2f066d0c2c0f989806d5f6b61dac38417e8d12cfdf926e0")

	sealed, err := SealWithAAD(key, nonce, plaintext, aad)
	require.NoError(t, err)
	assert.Equal(t, want, sealed)

	opened, err := OpenWithAAD(key, nonce, sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestRoundTrip(t *testing.T) {
	nonce := []byte("20000")
	for n := 0; n <= 64; n++ {
		plaintext := bytes.Repeat([]byte{byte(n)}, n)

		sealed, err := Seal(testKey, nonce, plaintext)
		require.NoError(t, err)
		assert.Len(t, sealed, n+TagSize)

		opened, err := Open(testKey, nonce, sealed)
		require.NoError(t, err, "length %d", n)
		assert.Equal(t, plaintext, opened, "length %d", n)
	}
}

func TestOpenRejectsEveryFlippedByte(t *testing.T) {
	nonce := []byte("20010")
	plaintext := []byte("\x13\x37\x13\x37\x13\x37\x13\x37newsecnewsecnewsec")

	sealed, err := Seal(testKey, nonce, plaintext)
	require.NoError(t, err)

	for i := range sealed {
		tampered := bytes.Clone(sealed)
		tampered[i] ^= 0x01

		got, err := Open(testKey, nonce, tampered)
		assert.ErrorIs(t, err, ErrAuthFailed, "byte %d", i)
		assert.Nil(t, got, "byte %d leaked plaintext", i)
	}
}

func TestOpenWrongKeyOrNonce(t *testing.T) {
	sealed, err := Seal(testKey, []byte("1000"), []byte("0"))
	require.NoError(t, err)

	_, err = Open([]byte("fedcba9876543210"), []byte("1000"), sealed)
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = Open(testKey, []byte("1001"), sealed)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestOpenShortMessage(t *testing.T) {
	got, err := Open(testKey, []byte("1"), []byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.True(t, errors.Is(err, ErrMessageTooShort))
	assert.Nil(t, got)
}

func TestAADBinding(t *testing.T) {
	nonce := []byte("30000")
	post := BuildAAD("akes/key-revocation", 2)
	get := BuildAAD("akes/key-revocation", 1)

	sealed, err := SealWithAAD(testKey, nonce, []byte("payload"), post)
	require.NoError(t, err)

	_, err = OpenWithAAD(testKey, nonce, sealed, get)
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = Open(testKey, nonce, sealed)
	assert.ErrorIs(t, err, ErrAuthFailed)

	got, err := OpenWithAAD(testKey, nonce, sealed, post)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestPadNonce(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		want  []byte
		error error
	}{
		{
			name: "empty",
			in:   nil,
			want: bytes.Repeat([]byte{0xFF}, NonceSize),
		},
		{
			name: "decimal",
			in:   []byte("15300"),
			want: append([]byte("15300"), bytes.Repeat([]byte{0xFF}, 8)...),
		},
		{
			name: "exact",
			in:   []byte("1234567890123"),
			want: []byte("1234567890123"),
		},
		{
			name:  "too long",
			in:    []byte("12345678901234"),
			error: ErrNonceTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PadNonce(tt.in)
			if tt.error != nil {
				assert.ErrorIs(t, err, tt.error)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewInvalidKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestBuildAAD(t *testing.T) {
	got := BuildAAD("ab", 2)
	assert.Equal(t, []byte{0x00, 0x02, 'a', 'b', 0x02}, got)
}
