package trust_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/trust"
)

func writeBundle(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "spell.yaml"), []byte("id: acme/demo\nversion: 1.0.0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "schema.json"), []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "steps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "steps", "hello.sh"), []byte("echo hi\n"), 0o755))
}

func TestVerifyUnsigned(t *testing.T) {
	bundle := t.TempDir()
	writeBundle(t, bundle)
	store := trust.NewStore(t.TempDir())

	res := trust.Verify(store, bundle, "acme/demo")
	require.Equal(t, trust.StatusUnsigned, res.Status)
}

func TestVerifyFullRoundTrip(t *testing.T) {
	bundle := t.TempDir()
	writeBundle(t, bundle)

	kp, err := trust.GenerateKeyPair("key-1")
	require.NoError(t, err)

	sig, err := kp.SignBundle(bundle, "acme")
	require.NoError(t, err)
	require.NoError(t, trust.WriteSignatureFile(bundle, sig))

	trustDir := t.TempDir()
	store := trust.NewStore(trustDir)
	require.NoError(t, store.Upsert("acme", trust.Key{
		KeyID:     "key-1",
		Algorithm: "ed25519",
		PublicKey: kp.PublicKeyBase64URL(),
	}))

	res := trust.Verify(store, bundle, "acme/demo")
	require.Equal(t, trust.StatusVerified, res.Status)
	require.Equal(t, "acme", res.Publisher)
	require.Equal(t, "key-1", res.KeyID)

	// Flipping one byte of a step file must invalidate the signature.
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "steps", "hello.sh"), []byte("echo bye\n"), 0o755))
	res2 := trust.Verify(store, bundle, "acme/demo")
	require.Equal(t, trust.StatusInvalid, res2.Status)
}

func TestVerifyRevokedKeyTurnsInvalid(t *testing.T) {
	bundle := t.TempDir()
	writeBundle(t, bundle)

	kp, err := trust.GenerateKeyPair("key-1")
	require.NoError(t, err)
	sig, err := kp.SignBundle(bundle, "acme")
	require.NoError(t, err)
	require.NoError(t, trust.WriteSignatureFile(bundle, sig))

	store := trust.NewStore(t.TempDir())
	require.NoError(t, store.Upsert("acme", trust.Key{KeyID: "key-1", Algorithm: "ed25519", PublicKey: kp.PublicKeyBase64URL()}))

	res := trust.Verify(store, bundle, "acme/demo")
	require.Equal(t, trust.StatusVerified, res.Status)

	require.NoError(t, store.Revoke("acme", "key-1", "compromised"))
	res2 := trust.Verify(store, bundle, "acme/demo")
	require.Equal(t, trust.StatusInvalid, res2.Status)
}

func TestVerifyUntrustedPublisher(t *testing.T) {
	bundle := t.TempDir()
	writeBundle(t, bundle)
	kp, err := trust.GenerateKeyPair("key-1")
	require.NoError(t, err)
	sig, err := kp.SignBundle(bundle, "acme")
	require.NoError(t, err)
	require.NoError(t, trust.WriteSignatureFile(bundle, sig))

	store := trust.NewStore(t.TempDir())
	res := trust.Verify(store, bundle, "acme/demo")
	require.Equal(t, trust.StatusUntrusted, res.Status)
}

func TestStoreRemoveEmptiesPublisherFile(t *testing.T) {
	dir := t.TempDir()
	store := trust.NewStore(dir)
	require.NoError(t, store.Upsert("acme", trust.Key{KeyID: "k1", Algorithm: "ed25519", PublicKey: "xyz"}))
	require.NoError(t, store.Remove("acme", "k1"))

	_, err := os.Stat(filepath.Join(dir, "acme.json"))
	require.True(t, os.IsNotExist(err))
}
