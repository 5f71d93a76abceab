package receipt

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
)

var sensitiveKeyPattern = regexp.MustCompile(`(?i)token|secret|password|authorization|api[_-]?key`)

const redactedPlaceholder = "[REDACTED]"

// Redact walks an arbitrary JSON-shaped value (map/slice/scalar) and
// replaces string values whose key matches the sensitive-field pattern, and
// any substring equal to a sensitive process env var's value, with
// "[REDACTED]". Grounded in shape on the teacher's crypto.Hasher/audit
// canonicalization discipline: this is a pure function over decoded JSON
// values, with no dependency on the receipt's concrete Go type, so it can
// redact the receipt's `input` field (an arbitrary map[string]any) the same
// way it redacts anything else.
func Redact(value any) any {
	envValues := sensitiveEnvValues()
	return redactValue(value, "", envValues)
}

func redactValue(v any, key string, envValues []string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = redactValue(vv, k, envValues)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = redactValue(vv, key, envValues)
		}
		return out
	case string:
		if sensitiveKeyPattern.MatchString(key) {
			return redactedPlaceholder
		}
		for _, ev := range envValues {
			if ev != "" && strings.Contains(t, ev) {
				t = strings.ReplaceAll(t, ev, redactedPlaceholder)
			}
		}
		return t
	default:
		return v
	}
}

func sensitiveEnvValues() []string {
	var values []string
	for _, kv := range os.Environ() {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		key, val := kv[:idx], kv[idx+1:]
		if sensitiveKeyPattern.MatchString(key) && val != "" {
			values = append(values, val)
		}
	}
	return values
}

// Sanitize returns a shallow copy of rec with every step's StdoutHead/
// StderrHead stripped, for the execution API's detail endpoint (§4.11),
// which must never leak captured command output to a caller who only has
// read access to execution status. The receipt stored on disk and returned
// by `spell log` is untouched.
func Sanitize(rec *Receipt) *Receipt {
	if rec == nil {
		return nil
	}
	out := *rec
	out.Steps = make([]StepResult, len(rec.Steps))
	for i, step := range rec.Steps {
		step.StdoutHead = ""
		step.StderrHead = ""
		out.Steps[i] = step
	}
	return &out
}

// RedactJSON is a convenience used when the input is already decoded JSON
// (e.g. the cast's input map) rather than a typed struct.
func RedactJSON(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, err
	}
	redacted := Redact(decoded)
	m, _ := redacted.(map[string]any)
	return m, nil
}
