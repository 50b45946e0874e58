// Package crypto is the CryptoOracle collaborator: keypair generation,
// address derivation, hashing, and signing/verification. Every other
// package treats it as a black box and never reaches past these
// functions into secp256k1 or sha256 directly.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/pkg/errors"
)

// AddressSize is the number of bytes kept from the address hash, matching
// the hash160-style truncation used across the retrieval pack's UTXO
// examples (petiibhuzah-golang-blockchain, moronibr-BYC).
const AddressSize = 20

// Address is an opaque, comparable identifier: hash(publicKey) truncated
// to AddressSize bytes. Comparable by value so it can key a Go map.
type Address [AddressSize]byte

// Signature is a serialized secp256k1 ECDSA signature (DER form).
type Signature []byte

// KeyPair bundles a private/public secp256k1 key.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// ErrStringLengthMismatch is raised by the eligibility bit-compare helper
// when asked to compare inputs shorter than the bits it needs to read. The
// spec treats this as a programming bug: surfaced, never silently
// swallowed.
var ErrStringLengthMismatch = errors.New("crypto: input shorter than comparison width")

// GenerateKeypair produces a fresh secp256k1 keypair.
func GenerateKeypair() (KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "generate keypair")
	}
	return KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// SerializePubKey returns the canonical compressed encoding of pub, used
// both as the wire form of a public key and as the eligibility proof bytes.
func SerializePubKey(pub *secp256k1.PublicKey) []byte {
	return pub.SerializeCompressed()
}

// ParsePubKey is the inverse of SerializePubKey.
func ParsePubKey(b []byte) (*secp256k1.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "parse pubkey")
	}
	return pub, nil
}

// CalcAddress derives an Address from a public key: Address = hash(pubkey).
func CalcAddress(pub *secp256k1.PublicKey) Address {
	digest := Hash(SerializePubKey(pub))
	var addr Address
	copy(addr[:], digest[:AddressSize])
	return addr
}

// Hash is the generic content hash used for transaction/block ids and for
// address derivation.
func Hash(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// CanonicalBytes gob-encodes v the same way on both the signing and
// verifying side, so Sign/Verify always agree on the message bytes (spec
// §6: "canonical serialization of value must match between sign and
// verify").
func CanonicalBytes(v any) []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		// Only locally-constructed, gob-encodable values are ever passed
		// here; a failure means a programming bug, not bad input.
		panic(errors.Wrap(err, "canonical encode"))
	}
	return buf.Bytes()
}

// Sign produces a signature over the canonical encoding of value.
func Sign(priv *secp256k1.PrivateKey, value any) Signature {
	digest := Hash(CanonicalBytes(value))
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// Verify checks a signature produced by Sign against the same value.
func Verify(pub *secp256k1.PublicKey, value any, sig Signature) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := Hash(CanonicalBytes(value))
	return parsed.Verify(digest[:], pub)
}

// MatchingPrefixBits counts the number of leading equal bits between the
// first 16 bits ("bin16") of a and b, stopping at the first mismatch. Used
// by the mint-eligibility predicate.
func MatchingPrefixBits(a, b []byte) (int, error) {
	if len(a) < 2 || len(b) < 2 {
		return 0, ErrStringLengthMismatch
	}
	count := 0
	for byteIdx := 0; byteIdx < 2; byteIdx++ {
		ab, bb := a[byteIdx], b[byteIdx]
		for bit := 7; bit >= 0; bit-- {
			if (ab>>uint(bit))&1 != (bb>>uint(bit))&1 {
				return count, nil
			}
			count++
		}
	}
	return count, nil
}
