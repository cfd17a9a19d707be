package normalize

import (
	"context"

	"github.com/chittyos/chittyrouter-sub005/email"
)

// normalizePDF implements §4.1's PDF rule: call PdfExtractor, concatenate
// page text. Attachments stay empty unless the extractor yields embedded
// files, which no capability in this gateway currently does.
func normalizePDF(ctx context.Context, env *email.Envelope, in Input, caps Capabilities, limits Limits) error {
	env.SizeBytes = int64(len(in.RawBytes))
	if int64(len(in.RawBytes)) > limits.MaxEnvelopeBytes {
		env.AddDropReason("envelope_oversize")
		return nil
	}
	if caps.PdfExtract == nil {
		env.AddDropReason("no_extractor")
		return nil
	}
	text, err := caps.PdfExtract.ExtractText(ctx, in.RawBytes)
	if err != nil {
		env.AddDropReason("pdf_extract_failed")
		return nil
	}
	setBody(env, text, previewLimit(limits))
	return nil
}
