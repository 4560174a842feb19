package tokencipher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	plaintext := "Type=EnquiryRequest&TuitionPartnerId=42&Email=parent@example.com&deadbeef"
	token, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, token)

	got, err := c.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestTokensAreURLSafe(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	token, err := c.Encrypt("Type=EnquirerViewAllResponses&Email=a@b.c&00ff")
	require.NoError(t, err)
	assert.False(t, strings.ContainsAny(token, "+/= "), "token %q must be URL-safe", token)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	t1, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	t2, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	for _, token := range []string{"", "not-base64!!", "YWJj", strings.Repeat("A", 200)} {
		_, err := c.Decrypt(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	c1, err := New(testKey())
	require.NoError(t, err)
	c2, err := New([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	token, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateRandomTokenIsFresh(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	a, err := c.GenerateRandomToken()
	require.NoError(t, err)
	b, err := c.GenerateRandomToken()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
