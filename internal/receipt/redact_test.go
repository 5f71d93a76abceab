package receipt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/receipt"
)

func TestRedactByKeyName(t *testing.T) {
	in := map[string]any{
		"username": "alice",
		"password": "hunter2",
		"nested": map[string]any{
			"api_key": "abc123",
			"note":    "fine",
		},
	}
	out := receipt.Redact(in).(map[string]any)
	require.Equal(t, "alice", out["username"])
	require.Equal(t, "[REDACTED]", out["password"])

	nested := out["nested"].(map[string]any)
	require.Equal(t, "[REDACTED]", nested["api_key"])
	require.Equal(t, "fine", nested["note"])
}

func TestRedactBySensitiveEnvValue(t *testing.T) {
	t.Setenv("SPELL_TEST_SECRET", "super-secret-value")
	in := map[string]any{"log_line": "connecting with token super-secret-value now"}
	out := receipt.Redact(in).(map[string]any)
	require.Contains(t, out["log_line"], "[REDACTED]")
	require.NotContains(t, out["log_line"], "super-secret-value")
}

func TestRedactPreservesListOrder(t *testing.T) {
	in := map[string]any{"items": []any{"a", "b", "c"}}
	out := receipt.Redact(in).(map[string]any)
	require.Equal(t, []any{"a", "b", "c"}, out["items"])
}

func TestRedactJSONRoundTrip(t *testing.T) {
	in := map[string]any{"password": "hunter2", "keep": 42.0}
	out, err := receipt.RedactJSON(in)
	require.NoError(t, err)
	require.Equal(t, "[REDACTED]", out["password"])
	require.Equal(t, 42.0, out["keep"])
}
