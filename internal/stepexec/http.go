package stepexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spellruntime/spell/internal/template"
)

// HTTPSpec is the JSON shape of an http step's run file.
type HTTPSpec struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// HTTPResult is the outcome of running one http step.
type HTTPResult struct {
	StatusCode int
	Body       any // parsed JSON when possible, else a string
}

// RunHTTP loads the run file as a template-expanded HTTPSpec and performs
// the request. ctx carries the step's cancellation/timeout signal.
func RunHTTP(ctx context.Context, stepName, run, bundleRoot string, env map[string]string, input map[string]any) (HTTPResult, error) {
	raw, err := os.ReadFile(filepath.Join(bundleRoot, run))
	if err != nil {
		return HTTPResult{}, fmt.Errorf("step %s: reading %s: %w", stepName, run, err)
	}

	var rawSpec map[string]any
	if err := json.Unmarshal(raw, &rawSpec); err != nil {
		return HTTPResult{}, fmt.Errorf("step %s: parsing %s: %w", stepName, run, err)
	}

	expanded, err := template.Apply(rawSpec, template.Values{Input: input, Env: env})
	if err != nil {
		return HTTPResult{}, fmt.Errorf("step %s: %w", stepName, err)
	}

	specBytes, err := json.Marshal(expanded)
	if err != nil {
		return HTTPResult{}, err
	}
	var spec HTTPSpec
	if err := json.Unmarshal(specBytes, &spec); err != nil {
		return HTTPResult{}, fmt.Errorf("step %s: decoding expanded spec: %w", stepName, err)
	}
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}

	var bodyReader io.Reader
	headers := make(map[string]string, len(spec.Headers))
	for k, v := range spec.Headers {
		headers[strings.ToLower(k)] = v
	}

	if spec.Body != nil {
		switch b := spec.Body.(type) {
		case string:
			bodyReader = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return HTTPResult{}, fmt.Errorf("step %s: encoding body: %w", stepName, err)
			}
			bodyReader = bytes.NewReader(encoded)
			if _, ok := headers["content-type"]; !ok {
				headers["content-type"] = "application/json"
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bodyReader)
	if err != nil {
		return HTTPResult{}, fmt.Errorf("step %s: building request: %w", stepName, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return HTTPResult{}, fmt.Errorf("step %s: request failed: %w", stepName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return HTTPResult{}, fmt.Errorf("step %s: reading response: %w", stepName, err)
	}

	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = string(respBody)
	}

	result := HTTPResult{StatusCode: resp.StatusCode, Body: parsed}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("step failed: %s (http status %d)", stepName, resp.StatusCode)
	}
	return result, nil
}
