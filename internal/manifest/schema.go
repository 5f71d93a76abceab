package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateInput validates a candidate input object against the bundle's
// declared schema.json, per §4.10 step 3. Grounded on the
// santhosh-tekuri/jsonschema/v5 usage elsewhere in the corpus
// (pkg/firewall, pkg/interfaces/agui) — the teacher's own manifest package
// has no schema validator of its own, so this is adapted from those
// sibling usages rather than from pkg/manifest.
func ValidateInput(bundlePath string, input map[string]any) error {
	schemaPath := filepath.Join(bundlePath, "schema.json")
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("manifest: reading schema.json: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("manifest: loading schema.json: %w", err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("manifest: compiling schema.json: %w", err)
	}

	// Round-trip through encoding/json so the jsonschema library sees the
	// same json.Number / map[string]interface{} shape it expects.
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("manifest: encoding input: %w", err)
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("manifest: decoding input: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
