// Package crypto provides the hashing and signing primitives the ledger is
// built on: SHA-256 digests and Ed25519 signatures over byte messages.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SeedSize is the Ed25519 private seed length in bytes.
const SeedSize = ed25519.SeedSize

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Signer interface for cryptographic signatures.
type Signer interface {
	Sign(message []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	KeyID() string
}

// Ed25519Signer wraps an Ed25519 keypair.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh random keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromSeed builds a signer from a 32-byte private seed.
// The same seed always derives the same keypair.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("invalid seed size: expected %d, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}, nil
}

// DeriveEd25519Signer derives a ledger-scoped signer from a master seed using
// HKDF-SHA256, so one operator secret can key many ledgers without reuse.
func DeriveEd25519Signer(masterSeed []byte, ledgerID string) (*Ed25519Signer, error) {
	if len(masterSeed) == 0 {
		return nil, fmt.Errorf("empty master seed")
	}
	kdf := hkdf.New(sha256.New, masterSeed, nil, []byte("nucleus:ledger:"+ledgerID))
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("hkdf derivation failed: %w", err)
	}
	return NewEd25519SignerFromSeed(seed, ledgerID)
}

// Sign signs the message and returns the hex-encoded signature.
func (s *Ed25519Signer) Sign(message []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, message)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

// PrivateKey exposes the underlying key for EdDSA token signing.
func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.privKey
}

// JWK is an OKP/Ed25519 public key in JSON Web Key form, for external verifiers.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid,omitempty"`
}

// PublicKeyJWK exports the public key as an OKP/Ed25519 JWK.
func (s *Ed25519Signer) PublicKeyJWK() JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(s.pubKey),
		Kid: s.keyID,
	}
}

// Verify verifies a hex-encoded signature against a hex-encoded public key.
// It is a pure function: no keypair state is required, so checkpoints signed
// by a different instance holding the same public key verify too.
func Verify(pubKeyHex, sigHex string, message []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: %d", len(pubKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, sig), nil
}
