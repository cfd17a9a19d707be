package normalize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"crawshaw.io/iox"
	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/email/dkim"
	"github.com/chittyos/chittyrouter-sub005/email/msgcleaver"
	"github.com/chittyos/chittyrouter-sub005/html/htmlsafe"
)

// normalizeEmail implements §4.1's EMAIL rule: extract headers and
// From/To/Cc/Bcc/Subject/Message-ID, derive the body by concatenating
// text/plain parts in declaration order (falling back to the first
// text/html part stripped of markup), and enumerate attachments without
// loading their bodies.
func normalizeEmail(ctx context.Context, env *email.Envelope, in Input, caps Capabilities, limits Limits) error {
	if int64(len(in.RawEmail)) > limits.MaxEnvelopeBytes {
		env.SizeBytes = int64(len(in.RawEmail))
		env.AddDropReason("envelope_oversize")
		return nil
	}

	filer := caps.Filer
	if filer == nil {
		filer = iox.NewFiler(0)
	}

	msg, err := msgcleaver.Cleave(filer, bytes.NewReader(in.RawEmail))
	if err != nil {
		env.AddDropReason("mime_parse_failed")
		return nil
	}
	defer msg.Close()

	hdr := msg.Headers
	for _, entry := range hdr.Entries {
		env.HeaderSet(string(entry.Key), string(entry.Value))
	}

	env.Principals.From = email.ParseAddressList(string(hdr.Get("From")))
	env.Principals.To = email.ParseAddressList(string(hdr.Get("To")))
	env.Principals.CC = email.ParseAddressList(string(hdr.Get("CC")))
	env.Principals.BCC = email.ParseAddressList(string(hdr.Get("BCC")))
	env.Subject = string(hdr.Get("Subject"))
	if env.Source == "" && len(env.Principals.From) > 0 {
		env.Source = env.Principals.From[0].Addr
	}

	verifyDKIM(ctx, env, in.RawEmail)

	body, bodyLen := bodyFromParts(msg.Parts)
	setBody(env, body, previewLimit(limits))
	env.SizeBytes = int64(len(in.RawEmail))
	_ = bodyLen

	for _, p := range msg.Parts {
		if !p.IsAttachment {
			continue
		}
		size := p.Content.Size()
		if size > limits.MaxAttachmentBytes {
			env.AddDropReason("attachment_oversize")
			continue
		}
		env.Attachments = append(env.Attachments, email.Attachment{
			Name:      p.Name,
			MIME:      p.ContentType,
			SizeBytes: size,
		})
	}

	return nil
}

func bodyFromParts(parts []email.Part) (string, int) {
	var plain []string
	var firstHTML string
	for _, p := range parts {
		if !p.IsBody {
			continue
		}
		if _, err := p.Content.Seek(0, 0); err != nil {
			continue
		}
		data, err := io.ReadAll(p.Content)
		if err != nil {
			continue
		}
		switch {
		case strings.EqualFold(p.ContentType, "text/plain"):
			plain = append(plain, string(data))
		case strings.EqualFold(p.ContentType, "text/html") && firstHTML == "":
			firstHTML = string(data)
		}
	}
	if len(plain) > 0 {
		joined := strings.Join(plain, "\n")
		return joined, len(joined)
	}
	if firstHTML != "" {
		text := htmlsafe.ExtractText(strings.NewReader(firstHTML))
		return text, len(text)
	}
	return "", 0
}

func verifyDKIM(ctx context.Context, env *email.Envelope, raw []byte) {
	if len(raw) == 0 {
		return
	}
	v := &dkim.Verifier{}
	err := v.Verify(ctx, bytes.NewReader(raw))
	if err == nil {
		env.HeaderSet("x-dkim-result", "pass")
	} else {
		env.HeaderSet("x-dkim-result", fmt.Sprintf("fail:%v", err))
	}
}
