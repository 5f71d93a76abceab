package template

import (
	"fmt"
	"strings"
)

// Outputs holds the step.<name>.stdout / step.<name>.json values produced
// so far in an execution.
type Outputs map[string]any

// SetStdout records a shell step's stdout output.
func (o Outputs) SetStdout(stepName, stdout string) {
	o["step."+stepName+".stdout"] = stdout
}

// SetJSON records an http step's parsed JSON body.
func (o Outputs) SetJSON(stepName string, body any) {
	o["step."+stepName+".json"] = body
}

// Resolve implements resolveOutputReference: "step.<name>.stdout" returns
// the raw string; "step.<name>.json[.dot.path]" walks into the parsed
// body. A dotted suffix on a .stdout reference is rejected.
func (o Outputs) Resolve(ref string) (any, error) {
	const prefix = "step."
	if !strings.HasPrefix(ref, prefix) {
		return nil, fmt.Errorf("output reference not found: %s", ref)
	}
	rest := ref[len(prefix):]

	if idx := strings.Index(rest, ".stdout"); idx >= 0 {
		stepName := rest[:idx]
		suffix := rest[idx+len(".stdout"):]
		if suffix != "" {
			return nil, fmt.Errorf("stdout reference does not support nested path: %s", ref)
		}
		val, ok := o["step."+stepName+".stdout"]
		if !ok {
			return nil, fmt.Errorf("output reference not found: %s", ref)
		}
		return val, nil
	}

	if idx := strings.Index(rest, ".json"); idx >= 0 {
		stepName := rest[:idx]
		suffix := strings.TrimPrefix(rest[idx+len(".json"):], ".")
		root, ok := o["step."+stepName+".json"]
		if !ok {
			return nil, fmt.Errorf("output reference not found: %s", ref)
		}
		if suffix == "" {
			return root, nil
		}
		val, ok := lookupDotPath(asMap(root), strings.Split(suffix, "."))
		if !ok {
			return nil, fmt.Errorf("output reference not found: %s", ref)
		}
		return val, nil
	}

	return nil, fmt.Errorf("output reference not found: %s", ref)
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
