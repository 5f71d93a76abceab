package entitlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/entitlement"
	"github.com/spellruntime/spell/internal/manifest"
	"github.com/spellruntime/spell/internal/trust"
)

func TestTokenRoundTrip(t *testing.T) {
	kp, err := trust.GenerateKeyPair("issuer-key-1")
	require.NoError(t, err)

	now := time.Now()
	claims := entitlement.Claims{
		Issuer:    "acme",
		KeyID:     "issuer-key-1",
		Mode:      "upfront",
		Currency:  "USD",
		MaxAmount: 1000,
		NotBefore: now.Add(-time.Hour).Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
	raw, err := entitlement.Sign(kp.PrivateKey, claims)
	require.NoError(t, err)

	tok, err := entitlement.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "acme", tok.Claims.Issuer)

	store := trust.NewStore(t.TempDir())
	require.NoError(t, store.Upsert("acme", trust.Key{KeyID: "issuer-key-1", Algorithm: "ed25519", PublicKey: kp.PublicKeyBase64URL()}))

	require.NoError(t, entitlement.Verify(store, tok, now))
}

func TestTokenRejectsBadPrefix(t *testing.T) {
	_, err := entitlement.Parse("nope.aaaa.bbbb")
	require.Error(t, err)
}

func TestLicenseMatchesBilling(t *testing.T) {
	now := time.Now()
	lic := &entitlement.License{
		Claims: entitlement.Claims{
			Mode: "upfront", Currency: "usd", MaxAmount: 5000,
			NotBefore: now.Add(-time.Hour).Unix(), ExpiresAt: now.Add(time.Hour).Unix(),
		},
	}
	billing := manifest.Billing{Enabled: true, Mode: manifest.BillingUpfront, Currency: "USD", MaxAmount: 1000}
	require.True(t, lic.Matches(billing, now))

	lic.Revoked = true
	require.False(t, lic.Matches(billing, now))
}
