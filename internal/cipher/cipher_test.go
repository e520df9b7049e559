package cipher

import (
	"encoding/base64"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func newTestCipher(t *testing.T, key string) *Cipher {
	t.Helper()
	c, err := New(key)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Run("rejects an empty key", func(t *testing.T) {
		_, err := New("")
		assert.ErrorIs(t, err, ErrEmptyKey)
	})

	t.Run("accepts an encoded fernet key", func(t *testing.T) {
		// given
		var k fernet.Key
		require.NoError(t, k.Generate())

		// when
		c, err := New(k.Encode())

		// then
		require.NoError(t, err)
		assert.Equal(t, k, *c.keys[0])
	})

	t.Run("derives the same key from the same secret", func(t *testing.T) {
		a := newTestCipher(t, "not a fernet key")
		b := newTestCipher(t, "not a fernet key")

		enc, err := a.Encrypt(ptr("hello"))
		require.NoError(t, err)
		assert.Equal(t, "hello", *b.Decrypt(enc))
	})
}

func TestEncryptDecrypt(t *testing.T) {
	c := newTestCipher(t, "test secret")

	t.Run("round trips text", func(t *testing.T) {
		for _, text := range []string{"hi", "", "привіт, як справи?", "a much longer message that spans several aes blocks of input"} {
			enc, err := c.Encrypt(ptr(text))
			require.NoError(t, err)
			require.NotNil(t, enc)
			assert.True(t, IsCiphertext(*enc))

			dec := c.Decrypt(enc)
			require.NotNil(t, dec)
			assert.Equal(t, text, *dec)
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		enc, err := c.Encrypt(nil)
		require.NoError(t, err)
		assert.Nil(t, enc)
		assert.Nil(t, c.Decrypt(nil))
	})

	t.Run("plaintext passes through", func(t *testing.T) {
		for _, text := range []string{"plain text not ciphertext", "abcd", "aGVsbG8=", ""} {
			dec := c.Decrypt(ptr(text))
			require.NotNil(t, dec)
			assert.Equal(t, text, *dec)
		}
	})

	t.Run("tampered ciphertext is unrecoverable", func(t *testing.T) {
		// given
		enc, err := c.Encrypt(ptr("secret"))
		require.NoError(t, err)
		tok, err := base64.StdEncoding.DecodeString(*enc)
		require.NoError(t, err)
		raw, err := base64.URLEncoding.DecodeString(string(tok))
		require.NoError(t, err)

		// when
		raw[len(raw)-40] ^= 0xff
		tampered := base64.StdEncoding.EncodeToString([]byte(base64.URLEncoding.EncodeToString(raw)))

		// then
		assert.True(t, IsCiphertext(tampered))
		assert.Nil(t, c.Decrypt(&tampered))
	})

	t.Run("ciphertext from a foreign key is unrecoverable", func(t *testing.T) {
		other := newTestCipher(t, "another secret")
		enc, err := other.Encrypt(ptr("secret"))
		require.NoError(t, err)

		assert.Nil(t, c.Decrypt(enc))
	})
}
