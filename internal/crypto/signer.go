package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/crypto"
)

// RequestSigner signs questions on behalf of a requester. Operators only
// verify; this side exists for clients and tooling.
type RequestSigner struct {
	priv *ecdsa.PrivateKey
}

func NewRequestSignerFromHex(hexkey string) (*RequestSigner, error) {
	key := strip0x(hexkey)
	if len(key) != 64 || !isHex(key) {
		return nil, ErrInvalidSignerKey
	}
	pk, err := geth.HexToECDSA(key)
	if err != nil {
		return nil, ErrInvalidSignerKey
	}
	return &RequestSigner{priv: pk}, nil
}

// GenerateRequestSigner creates a signer with a fresh random key.
func GenerateRequestSigner() (*RequestSigner, error) {
	priv, err := geth.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &RequestSigner{priv: priv}, nil
}

func (s *RequestSigner) Address() common.Address {
	return geth.PubkeyToAddress(s.priv.PublicKey)
}

// SignPrompt hashes prompt with Keccak256 and signs the digest. The returned
// hash is what operators expect in prompt_hash.
func (s *RequestSigner) SignPrompt(prompt []byte) (hash, sig []byte, err error) {
	digest := HashMessage(prompt)
	sig, err = geth.Sign(digest[:], s.priv)
	if err != nil {
		return nil, nil, fmt.Errorf("sign prompt: %w", err)
	}
	return digest[:], sig, nil
}

func (s *RequestSigner) String() string {
	return fmt.Sprintf("RequestSigner{address: %s}", s.Address().Hex())
}
