// Package prooftoken exports ledger entries as externally verifiable JWTs.
// Tokens are signed with the ledger's Ed25519 key (EdDSA) so any holder of
// the public JWK can verify an entry without talking to the ledger.
package prooftoken

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/onoal/nucleus/pkg/crypto"
	"github.com/onoal/nucleus/pkg/ledger"
)

// EntryClaims carries the entry's logical fields alongside the standard
// claim set. Subject is the entry id, issuer the ledger name.
type EntryClaims struct {
	jwt.RegisteredClaims
	Stream    string          `json:"stream"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Hash      string          `json:"hash"`
	PrevHash  string          `json:"prev_hash,omitempty"`
	Status    ledger.Status   `json:"status"`
}

// Issuer mints proof tokens for one ledger.
type Issuer struct {
	signer     *crypto.Ed25519Signer
	ledgerName string
	ttl        time.Duration
}

// DefaultTTL bounds how long an exported proof stays verifiable. Zero ttl
// in NewIssuer falls back to it.
const DefaultTTL = 24 * time.Hour

func NewIssuer(signer *crypto.Ed25519Signer, ledgerName string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{signer: signer, ledgerName: ledgerName, ttl: ttl}
}

// Issue signs a proof token for the entry.
func (i *Issuer) Issue(e *ledger.Entry) (string, error) {
	now := time.Now().UTC()
	claims := EntryClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        e.ID,
			Subject:   e.ID,
			Issuer:    i.ledgerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Stream:    e.Stream,
		Timestamp: e.Timestamp,
		Payload:   e.Payload,
		Hash:      e.Hash,
		PrevHash:  e.PrevHash,
		Status:    e.Status,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = i.signer.KeyID()
	signed, err := token.SignedString(i.signer.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("sign proof token: %w", err)
	}
	return signed, nil
}

// Verify validates a proof token against a hex-encoded Ed25519 public key
// and returns its claims.
func Verify(tokenString, pubKeyHex string) (*EntryClaims, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key")
	}
	pub := ed25519.PublicKey(raw)

	token, err := jwt.ParseWithClaims(tokenString, &EntryClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*EntryClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
