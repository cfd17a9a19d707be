package normalize

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/chittyos/chittyrouter-sub005/email"
)

// normalizeJSON implements §4.1's JSON/API rule: body is the canonical
// JSON encoding (sorted keys — encoding/json already marshals map keys in
// sorted order, so no third-party codec is required here), subject is
// kind + ":" + (data.type | "unknown").
func normalizeJSON(ctx context.Context, env *email.Envelope, in Input, limits Limits) error {
	raw := in.RawJSON
	if len(raw) == 0 && in.RawText != "" {
		raw = json.RawMessage(in.RawText)
	}
	env.SizeBytes = int64(len(raw))
	if env.SizeBytes > limits.MaxEnvelopeBytes {
		env.AddDropReason("envelope_oversize")
		return nil
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		env.AddDropReason("json_parse_failed")
		return nil
	}

	canonical, err := canonicalJSON(generic)
	if err != nil {
		env.AddDropReason("json_canonicalize_failed")
		return nil
	}

	dataType := "unknown"
	if data, ok := generic["data"].(map[string]interface{}); ok {
		if t, ok := data["type"].(string); ok && t != "" {
			dataType = t
		}
	}
	env.Subject = string(in.Kind) + ":" + dataType
	setBody(env, string(canonical), previewLimit(limits))
	return nil
}

// canonicalJSON re-marshals a decoded value so map keys are in sorted
// order and formatting is stable across runs.
func canonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
