package normalize

import (
	"context"

	"github.com/chittyos/chittyrouter-sub005/email"
)

// normalizeMedia implements §4.1's IMAGE/VIDEO rule: body is the output of
// VisionDescriber; if unavailable, body is empty and drop_reasons records
// "no_describer".
func normalizeMedia(ctx context.Context, env *email.Envelope, in Input, caps Capabilities, limits Limits) error {
	env.SizeBytes = int64(len(in.RawBytes))
	if int64(len(in.RawBytes)) > limits.MaxEnvelopeBytes {
		env.AddDropReason("envelope_oversize")
		return nil
	}
	if caps.VisionDescr == nil {
		env.AddDropReason("no_describer")
		return nil
	}
	desc, err := caps.VisionDescr.Describe(ctx, in.RawBytes, in.MIMEType)
	if err != nil {
		env.AddDropReason("describe_failed")
		return nil
	}
	setBody(env, desc, previewLimit(limits))
	return nil
}
