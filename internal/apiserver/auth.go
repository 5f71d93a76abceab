package apiserver

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller of one request.
type Identity struct {
	TenantID  string
	ActorRole string
	IsAdmin   bool
}

// roleKey is one parsed entry of SPELL_API_AUTH_KEYS: "[tenant:]role=token".
type roleKey struct {
	tenantID string
	role     string
	token    string
}

// Authenticator resolves a bearer token into an Identity, trying role-keyed
// tokens first, then plain bearer tokens, then (additively) a JWT, per
// §4.11/§4.13's fixed precedence.
//
// Grounded on pkg/auth/middleware.go's ordered, fail-closed validator chain
// and pkg/identity/keyset.go's EdDSA verification.
type Authenticator struct {
	roleKeys    []roleKey
	plainTokens map[string]bool
	jwtKey      ed25519.PublicKey
	adminRole   string
}

// NewAuthenticator parses the CSV-encoded SPELL_API_AUTH_TOKENS and
// SPELL_API_AUTH_KEYS env var values, plus the optional base64url-encoded
// ed25519 SPKI public key from SPELL_API_JWT_PUBLIC_KEY.
func NewAuthenticator(authTokens, authKeys []string, jwtPublicKey string) (*Authenticator, error) {
	a := &Authenticator{plainTokens: map[string]bool{}, adminRole: "admin"}
	for _, t := range authTokens {
		if t != "" {
			a.plainTokens[t] = true
		}
	}
	for _, entry := range authKeys {
		if entry == "" {
			continue
		}
		tenant := ""
		rest := entry
		if idx := strings.IndexByte(entry, ':'); idx >= 0 {
			tenant = entry[:idx]
			rest = entry[idx+1:]
		}
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			continue
		}
		a.roleKeys = append(a.roleKeys, roleKey{tenantID: tenant, role: rest[:eq], token: rest[eq+1:]})
	}
	if jwtPublicKey != "" {
		key, err := parseEd25519SPKI(jwtPublicKey)
		if err != nil {
			return nil, fmt.Errorf("apiserver: parsing SPELL_API_JWT_PUBLIC_KEY: %w", err)
		}
		a.jwtKey = key
	}
	return a, nil
}

func parseEd25519SPKI(b64url string) (ed25519.PublicKey, error) {
	der, err := base64.RawURLEncoding.DecodeString(b64url)
	if err != nil {
		return nil, fmt.Errorf("decoding base64url: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing SPKI: %w", err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("SPKI key is not ed25519")
	}
	return key, nil
}

// Enabled reports whether any authentication mode is configured. When no
// mode is configured, every request is anonymous (no tenant/role binding)
// rather than rejected, matching a local/dev deployment with auth off.
func (a *Authenticator) Enabled() bool {
	return len(a.plainTokens) > 0 || len(a.roleKeys) > 0 || len(a.jwtKey) > 0
}

// Authenticate extracts and validates the request's bearer token.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, *APIError) {
	if !a.Enabled() {
		return Identity{}, nil
	}

	token := bearerToken(r)
	if token == "" {
		return Identity{}, &APIError{Status: http.StatusUnauthorized, Code: "AUTH_REQUIRED", Message: "missing bearer token"}
	}

	for _, rk := range a.roleKeys {
		if rk.token == token {
			return Identity{TenantID: rk.tenantID, ActorRole: rk.role, IsAdmin: rk.role == a.adminRole}, nil
		}
	}
	if a.plainTokens[token] {
		return Identity{}, nil
	}
	if len(a.jwtKey) > 0 {
		if id, ok := a.parseJWT(token); ok {
			return id, nil
		}
	}
	return Identity{}, &APIError{Status: http.StatusUnauthorized, Code: "AUTH_INVALID", Message: "invalid bearer token"}
}

// parseJWT implements the additive §4.13 JWT mode: EdDSA tokens carrying
// "sub", "tenant_id", and "roles" claims.
func (a *Authenticator) parseJWT(raw string) (Identity, bool) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	})
	if err != nil {
		return Identity{}, false
	}
	tenant, _ := claims["tenant_id"].(string)
	roles := stringSliceClaim(claims["roles"])
	isAdmin := false
	role := ""
	for _, r := range roles {
		if role == "" {
			role = r
		}
		if r == a.adminRole {
			isAdmin = true
			role = r
		}
	}
	return Identity{TenantID: tenant, ActorRole: role, IsAdmin: isAdmin}, true
}

func stringSliceClaim(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}
