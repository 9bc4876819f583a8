package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testMaster() []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	box, err := New(testMaster(), "secret-store/fs")
	require.NoError(t, err)

	msg := []byte("hola mundo ✓ secreto")
	ct, err := box.Seal(msg, []byte("signing-keys/kid-1"))
	require.NoError(t, err)
	require.NotContains(t, ct, "hola")

	pt, err := box.Open(ct, []byte("signing-keys/kid-1"))
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestOpen_DetectsTamperAndWrongContext(t *testing.T) {
	box, err := New(testMaster(), "secret-store/fs")
	require.NoError(t, err)
	ct, err := box.Seal([]byte("payload"), []byte("a"))
	require.NoError(t, err)

	_, err = box.Open(ct, []byte("b"))
	require.ErrorIs(t, err, ErrInvalidCiphertext)

	parts := strings.Split(ct, "|")
	raw, _ := base64.StdEncoding.DecodeString(parts[1])
	raw[0] ^= 0xff
	_, err = box.Open(parts[0]+"|"+base64.StdEncoding.EncodeToString(raw), []byte("a"))
	require.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = box.Open("garbage", nil)
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNew_DerivesPerPurpose(t *testing.T) {
	a, err := New(testMaster(), "purpose-a")
	require.NoError(t, err)
	b, err := New(testMaster(), "purpose-b")
	require.NoError(t, err)

	ct, err := a.Seal([]byte("x"), nil)
	require.NoError(t, err)
	_, err = b.Open(ct, nil)
	require.Error(t, err)
}

func TestParseKey_Formats(t *testing.T) {
	m := testMaster()
	for _, in := range []string{
		base64.StdEncoding.EncodeToString(m),
		base64.RawStdEncoding.EncodeToString(m),
		hex.EncodeToString(m),
	} {
		got, err := ParseKey(in)
		require.NoError(t, err, in)
		require.Equal(t, m, got)
	}
	_, err := ParseKey("short")
	require.Error(t, err)

	gen, err := GenerateKey()
	require.NoError(t, err)
	k, err := ParseKey(gen)
	require.NoError(t, err)
	require.Len(t, k, 32)
}
