package crypto

import (
	"encoding/hex"
	"fmt"
	"testing"

	geth "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSignerRoundTrip(t *testing.T) {
	s, err := GenerateRequestSigner()
	require.NoError(t, err)

	hash, sig, err := s.SignPrompt([]byte("what is the capital of France?"))
	require.NoError(t, err)
	assert.Len(t, hash, 32)
	assert.Len(t, sig, 65)

	addr, err := RecoverAddress(sig, hash)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	expected := s.Address()
	res := NewVerifier(AuthRequired).Verify(sig, hash, &expected)
	assert.NoError(t, res.Err)
	assert.True(t, res.Attempted)
}

func TestRequestSignerFromHex(t *testing.T) {
	key, err := geth.GenerateKey()
	require.NoError(t, err)
	raw := hex.EncodeToString(geth.FromECDSA(key))

	for _, in := range []string{raw, "0x" + raw} {
		s, err := NewRequestSignerFromHex(in)
		require.NoError(t, err)
		assert.Equal(t, geth.PubkeyToAddress(key.PublicKey), s.Address())
		assert.NotContains(t, fmt.Sprint(s), raw)
	}

	_, err = NewRequestSignerFromHex("abcd")
	require.ErrorIs(t, err, ErrInvalidSignerKey)
}
