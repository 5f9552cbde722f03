package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMalformedSignature = errors.New("crypto: malformed signature")
	ErrMalformedHash      = errors.New("crypto: malformed message hash")
	ErrRecoveryFailed     = errors.New("crypto: signature recovery failed")
	ErrSignerMismatch     = errors.New("crypto: recovered signer does not match requester")
)

// AuthMode selects how request signatures are treated on admission.
type AuthMode string

const (
	// AuthOptional verifies only when both signature and prompt hash are present.
	// Failures are reported but do not reject the request.
	AuthOptional AuthMode = "optional"
	// AuthRequired rejects requests without a valid signature.
	AuthRequired AuthMode = "required"
	// AuthDisabled never attempts recovery.
	AuthDisabled AuthMode = "disabled"
)

// ParseAuthMode maps a config value to an AuthMode. Empty means AuthOptional.
func ParseAuthMode(raw string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AuthOptional:
		return AuthOptional, nil
	case AuthRequired:
		return AuthRequired, nil
	case AuthDisabled:
		return AuthDisabled, nil
	}
	return "", fmt.Errorf("crypto: unknown auth mode %q", raw)
}

// RecoverAddress recovers the signer address of a 65-byte [R || S || V]
// signature over messageHash. The hash is used as-is.
func RecoverAddress(signature, messageHash []byte) (common.Address, error) {
	if len(signature) != geth.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedSignature, len(signature), geth.SignatureLength)
	}
	if len(messageHash) != common.HashLength {
		return common.Address{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedHash, len(messageHash), common.HashLength)
	}

	sig := make([]byte, geth.SignatureLength)
	copy(sig, signature)
	switch v := sig[geth.RecoveryIDOffset]; v {
	case 0, 1:
	case 27, 28:
		sig[geth.RecoveryIDOffset] = v - 27
	default:
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, v)
	}

	pub, err := geth.SigToPub(messageHash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return geth.PubkeyToAddress(*pub), nil
}

// Verification is the outcome of checking a request signature under an AuthMode.
type Verification struct {
	Attempted bool
	Recovered common.Address
	Err       error
}

// Verifier applies an AuthMode to request signatures.
type Verifier struct {
	mode AuthMode
}

func NewVerifier(mode AuthMode) *Verifier {
	if mode == "" {
		mode = AuthOptional
	}
	return &Verifier{mode: mode}
}

func (v *Verifier) Mode() AuthMode { return v.mode }

// Verify checks signature against promptHash. When expected is non-nil the
// recovered address must equal it.
func (v *Verifier) Verify(signature, promptHash []byte, expected *common.Address) Verification {
	if v.mode == AuthDisabled {
		return Verification{}
	}
	if len(signature) == 0 || len(promptHash) == 0 {
		if v.mode == AuthRequired {
			return Verification{Err: fmt.Errorf("%w: signature and prompt hash required", ErrMalformedSignature)}
		}
		return Verification{}
	}

	addr, err := RecoverAddress(signature, promptHash)
	if err != nil {
		return Verification{Attempted: true, Err: err}
	}
	if expected != nil && *expected != addr {
		return Verification{
			Attempted: true,
			Recovered: addr,
			Err:       fmt.Errorf("%w: recovered %s, requester %s", ErrSignerMismatch, addr.Hex(), expected.Hex()),
		}
	}
	return Verification{Attempted: true, Recovered: addr}
}

// Rejects reports whether the verification outcome must reject the request.
func (v *Verifier) Rejects(res Verification) bool {
	return v.mode == AuthRequired && res.Err != nil
}

// HashMessage creates a Keccak256 hash of the message
func HashMessage(message []byte) [32]byte {
	return geth.Keccak256Hash(message)
}
