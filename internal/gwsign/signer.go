// Package gwsign applies the EIP-191 "Ethereum Signed Message" wrapping to a
// 32-byte digest and produces a 65-byte (r, s, v) secp256k1 signature. The
// key is loaded once at startup and reachable only through the Signer
// interface, so a remote KMS implementation can stand in for Local without
// touching any caller.
package gwsign

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSigningKeyUnavailable is returned by NewLocal when the configured key
// material cannot be parsed. It is fatal at startup.
var ErrSigningKeyUnavailable = errors.New("gwsign: signing key unavailable")

// secp256k1HalfOrder is N/2 where N is the secp256k1 curve order. A
// signature's S value must not exceed it; otherwise it is malleable (the
// same message admits a second, equally valid (r, N-s) signature) and must
// be normalized by flipping S and the recovery bit.
var secp256k1HalfOrder = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// Signer produces a 65-byte signature over the EIP-191 wrapping of a 32-byte
// digest. Local is software-key backed; a KMS-backed implementation can
// satisfy the same interface without the pipeline knowing the difference
//.
type Signer interface {
	Sign(digest [32]byte) ([65]byte, error)
	Address() common.Address
}

// Local signs with an in-process ECDSA private key loaded once at startup.
type Local struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocal parses a hex-encoded secp256k1 private key (with or without a
// "0x" prefix) into a Local signer.
func NewLocal(hexKey string) (*Local, error) {
	key, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyUnavailable, err)
	}
	return &Local{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's Ethereum address, derived from the public key.
func (l *Local) Address() common.Address { return l.addr }

// Sign produces r ‖ s ‖ v over keccak256("\x19Ethereum Signed Message:\n32" ‖ digest).
// v is normalized to {27, 28} and s is normalized to the low-S form.
func (l *Local) Sign(digest [32]byte) ([65]byte, error) {
	var out [65]byte
	hash := HashDigest(digest)
	sig, err := crypto.Sign(hash[:], l.key)
	if err != nil {
		return out, fmt.Errorf("gwsign: sign: %w", err)
	}
	normalizeLowS(sig)
	sig[64] += 27
	copy(out[:], sig)
	return out, nil
}

// HashDigest applies the EIP-191 prefix to a 32-byte digest:
// keccak256("\x19Ethereum Signed Message:\n32" ‖ digest).
func HashDigest(digest [32]byte) [32]byte {
	prefix := []byte("\x19Ethereum Signed Message:\n32")
	return crypto.Keccak256Hash(prefix, digest[:])
}

// Recover extracts the signer address from a 65-byte EIP-191 signature over
// digest. sig's v byte may be {0,1} or {27,28}.
func Recover(digest [32]byte, sig [65]byte) (common.Address, error) {
	hash := HashDigest(digest)
	normalized := sig
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash[:], normalized[:])
	if err != nil {
		return common.Address{}, fmt.Errorf("gwsign: ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// normalizeLowS flips s and the recovery bit in place when s exceeds the
// curve's half-order, producing the canonical low-S form of the signature.
func normalizeLowS(sig []byte) {
	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(secp256k1HalfOrder) <= 0 {
		return
	}
	flipped := new(big.Int).Sub(crypto.S256().Params().N, s)
	flippedBytes := flipped.Bytes()
	// left-pad to 32 bytes
	var padded [32]byte
	copy(padded[32-len(flippedBytes):], flippedBytes)
	copy(sig[32:64], padded[:])
	sig[64] ^= 1
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
