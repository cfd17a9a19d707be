package normalize

import (
	"context"

	"github.com/chittyos/chittyrouter-sub005/email"
)

// normalizeText implements §4.1's SMS/TEXT rule: body is the input text
// verbatim.
func normalizeText(ctx context.Context, env *email.Envelope, in Input, limits Limits) error {
	env.SizeBytes = int64(len(in.RawText))
	if env.SizeBytes > limits.MaxEnvelopeBytes {
		env.AddDropReason("envelope_oversize")
		return nil
	}
	setBody(env, in.RawText, previewLimit(limits))
	return nil
}
