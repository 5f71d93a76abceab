// Package entitlement implements entitlement-token parsing/verification and
// the local license store.
//
// Grounded on the teacher's pkg/crypto/signer.go (Ed25519Signer.Sign /
// package-level Verify) for the signing mechanics, adapted to the spec's
// "ent1.<payload>.<sig>" wire format instead of the teacher's hex-joined
// canonical-payload scheme.
package entitlement

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spellruntime/spell/internal/trust"
)

const tokenPrefix = "ent1"

// Claims is the payload carried by an entitlement token.
type Claims struct {
	Version    string `json:"version"`
	Issuer     string `json:"issuer"`
	KeyID      string `json:"key_id"`
	Mode       string `json:"mode"`
	Currency   string `json:"currency"`
	MaxAmount  int64  `json:"max_amount"`
	NotBefore  int64  `json:"not_before"`  // unix seconds
	ExpiresAt  int64  `json:"expires_at"`  // unix seconds
}

// Token is a parsed "ent1.<payload>.<sig>" string.
type Token struct {
	Raw            string
	PayloadSegment string
	Signature      string
	Claims         Claims
}

// Parse splits and decodes an entitlement token without verifying its
// signature. It enforces the structural invariants: exactly three dot
// segments, the ent1 prefix, valid base64url payload, and not_before <=
// expires_at.
func Parse(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("entitlement: malformed token: expected 3 dot-separated segments")
	}
	if parts[0] != tokenPrefix {
		return nil, fmt.Errorf("entitlement: unsupported token version prefix %q", parts[0])
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("entitlement: decoding payload: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("entitlement: parsing payload: %w", err)
	}
	if claims.NotBefore > claims.ExpiresAt {
		return nil, fmt.Errorf("entitlement: not_before must be <= expires_at")
	}
	return &Token{Raw: raw, PayloadSegment: parts[1], Signature: parts[2], Claims: claims}, nil
}

// Verify checks that claims.issuer is a trusted publisher with a matching,
// non-revoked key, that the signature verifies over the UTF-8 bytes of the
// payload segment, and that now lies within [not_before, expires_at].
func Verify(store *trust.Store, tok *Token, now time.Time) error {
	rec, err := store.Load(tok.Claims.Issuer)
	if err != nil {
		return fmt.Errorf("entitlement: loading trust for issuer %s: %w", tok.Claims.Issuer, err)
	}
	if rec == nil {
		return fmt.Errorf("entitlement: issuer %s is not a trusted publisher", tok.Claims.Issuer)
	}
	var key *trust.Key
	for i := range rec.Keys {
		if rec.Keys[i].KeyID == tok.Claims.KeyID {
			key = &rec.Keys[i]
			break
		}
	}
	if key == nil {
		return fmt.Errorf("entitlement: unknown key id %s for issuer %s", tok.Claims.KeyID, tok.Claims.Issuer)
	}
	if key.Revoked {
		return fmt.Errorf("entitlement: issuer key %s has been revoked", tok.Claims.KeyID)
	}

	pubRaw, err := base64.RawURLEncoding.DecodeString(key.PublicKey)
	if err != nil {
		return fmt.Errorf("entitlement: decoding issuer public key: %w", err)
	}
	pub := derToEd25519(pubRaw)

	sigBytes, err := base64.RawURLEncoding.DecodeString(tok.Signature)
	if err != nil {
		return fmt.Errorf("entitlement: decoding signature: %w", err)
	}
	if !ed25519.Verify(pub, []byte(tok.PayloadSegment), sigBytes) {
		return fmt.Errorf("entitlement: signature verification failed")
	}

	nowUnix := now.Unix()
	if nowUnix < tok.Claims.NotBefore || nowUnix > tok.Claims.ExpiresAt {
		return fmt.Errorf("entitlement: token is not within its validity window")
	}
	return nil
}

func derToEd25519(b []byte) ed25519.PublicKey {
	if len(b) > ed25519.PublicKeySize {
		return ed25519.PublicKey(b[len(b)-ed25519.PublicKeySize:])
	}
	return ed25519.PublicKey(b)
}

// Sign produces a new "ent1.<payload>.<sig>" token from claims.
func Sign(priv ed25519.PrivateKey, claims Claims) (string, error) {
	claims.Version = "v1"
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payloadSeg := base64.RawURLEncoding.EncodeToString(payload)
	sig := ed25519.Sign(priv, []byte(payloadSeg))
	sigSeg := base64.RawURLEncoding.EncodeToString(sig)
	return fmt.Sprintf("%s.%s.%s", tokenPrefix, payloadSeg, sigSeg), nil
}
