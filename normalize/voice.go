package normalize

import (
	"context"

	"github.com/chittyos/chittyrouter-sub005/email"
)

// normalizeVoice implements §4.1's VOICE rule: call Transcriber, body is
// the transcript, detected language recorded as header x-language.
func normalizeVoice(ctx context.Context, env *email.Envelope, in Input, caps Capabilities, limits Limits) error {
	env.SizeBytes = int64(len(in.RawBytes))
	if int64(len(in.RawBytes)) > limits.MaxEnvelopeBytes {
		env.AddDropReason("envelope_oversize")
		return nil
	}
	if caps.Transcribe == nil {
		env.AddDropReason("no_transcriber")
		return nil
	}
	text, lang, err := caps.Transcribe.Transcribe(ctx, in.RawBytes, in.MIMEType)
	if err != nil {
		env.AddDropReason("transcribe_failed")
		return nil
	}
	setBody(env, text, previewLimit(limits))
	if lang != "" {
		env.HeaderSet("x-language", lang)
	}
	return nil
}
