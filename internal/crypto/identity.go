package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidNodeID is returned when the node id is not a 20-byte hex address.
	ErrInvalidNodeID = errors.New("crypto: invalid node id")
	// ErrInvalidSignerKey is returned when the signer key is not a 32-byte secp256k1 scalar.
	ErrInvalidSignerKey = errors.New("crypto: invalid signer key")
)

const redacted = "[REDACTED]"

// OperatorIdentity binds the node's on-chain address to its signing key.
// The key is unexported and never rendered by String, GoString or JSON.
type OperatorIdentity struct {
	nodeID    common.Address
	signerKey *ecdsa.PrivateKey
}

// ResolveIdentity validates the configured node id and signer key.
func ResolveIdentity(nodeID, signerKey string) (*OperatorIdentity, error) {
	addr, err := ParseAddress(nodeID)
	if err != nil {
		return nil, err
	}

	keyHex := strip0x(strings.TrimSpace(signerKey))
	if len(keyHex) != 64 || !isHex(keyHex) {
		return nil, fmt.Errorf("%w: expected 64 hex characters", ErrInvalidSignerKey)
	}
	priv, err := geth.HexToECDSA(keyHex)
	if err != nil {
		// geth's error may echo key material; keep it out of the message.
		return nil, fmt.Errorf("%w: not a valid secp256k1 scalar", ErrInvalidSignerKey)
	}

	return &OperatorIdentity{nodeID: addr, signerKey: priv}, nil
}

// ParseAddress parses a 20-byte hex address with an optional 0x prefix.
func ParseAddress(raw string) (common.Address, error) {
	s := strip0x(strings.TrimSpace(raw))
	if len(s) != 2*common.AddressLength || !isHex(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, raw)
	}
	return common.HexToAddress("0x" + s), nil
}

// NodeID returns the configured node address.
func (id *OperatorIdentity) NodeID() common.Address { return id.nodeID }

// SignerAddress returns the address derived from the signer key.
func (id *OperatorIdentity) SignerAddress() common.Address {
	return geth.PubkeyToAddress(id.signerKey.PublicKey)
}

// KeyMatchesNodeID reports whether the signer key controls the node address.
func (id *OperatorIdentity) KeyMatchesNodeID() bool {
	return id.SignerAddress() == id.nodeID
}

// SignHash signs a 32-byte digest, returning a 65-byte [R || S || V] signature with V in {0,1}.
func (id *OperatorIdentity) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != common.HashLength {
		return nil, ErrMalformedHash
	}
	return geth.Sign(hash, id.signerKey)
}

func (id *OperatorIdentity) String() string {
	return fmt.Sprintf("OperatorIdentity{node_id: %s, signer_key: %s}", id.nodeID.Hex(), redacted)
}

func (id *OperatorIdentity) GoString() string { return id.String() }

func (id *OperatorIdentity) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"node_id":%q}`, id.nodeID.Hex())), nil
}

func strip0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
