// Package normalize converts every supported input variant into a
// capability.Envelope, per the normalizer rules of §4.1. Each kind has its
// own function; Detect chooses a kind when the caller does not supply one
// explicitly.
package normalize

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"crawshaw.io/iox"
	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
)

// Limits bounds the sizes a normalizer will accept, overridable via
// gwconfig.Config.
type Limits struct {
	MaxEnvelopeBytes   int64
	MaxAttachmentBytes int64
	PreviewLen         int
}

// DefaultLimits matches spec.md §3's defaults.
var DefaultLimits = Limits{
	MaxEnvelopeBytes:   email.DefaultMaxEnvelopeBytes,
	MaxAttachmentBytes: email.DefaultMaxAttachmentBytes,
	PreviewLen:         email.MaxPreviewLen,
}

// Input is the universal intake payload: a tagged variant over Envelope's
// Kind, per Design Notes §9 ("re-architect as tagged variants ... refuse
// unknown kinds at the boundary").
type Input struct {
	Kind     email.Kind
	Source   string // sender address, URL, or endpoint name
	Received time.Time

	// Exactly one of the following is populated, selected by Kind.
	RawEmail   []byte // EMAIL: raw MIME stream
	RawBytes   []byte // PDF, VOICE, IMAGE, VIDEO: binary payload
	RawText    string // SMS, TEXT: plain text
	RawJSON    json.RawMessage
	RawURL     string
	MIMEType   string // declared content-type, used by Detect
	FileExt    string // file extension, used by Detect
}

// Capabilities bundles the optional external collaborators a normalizer
// may call. A nil field means the capability is unavailable; normalizers
// must fall back per §4.1 rather than panic.
type Capabilities struct {
	Filer       *iox.Filer
	Fetcher     URLFetcher
	PdfExtract  capability.PdfExtractor
	Transcribe  capability.Transcriber
	VisionDescr capability.VisionDescriber
	IDAuthority capability.IdAuthority
	AllowAnon   bool
}

// URLFetcher performs the bounded HTTP GET used by the URL normalizer.
// Implemented by store's webfetch-backed cache adapter.
type URLFetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// Detect chooses a Kind when the caller did not supply one explicitly, in
// the order given by §4.1: declared content-type, file extension, URL
// prefix, email-header presence, JSON object, else TEXT.
func Detect(in Input) email.Kind {
	if in.Kind != "" {
		return in.Kind
	}
	if k, ok := fromMIME(in.MIMEType); ok {
		return k
	}
	if k, ok := fromExt(in.FileExt); ok {
		return k
	}
	if strings.HasPrefix(in.RawURL, "http://") || strings.HasPrefix(in.RawURL, "https://") {
		return email.KindURL
	}
	if len(in.RawEmail) > 0 && looksLikeEmail(in.RawEmail) {
		return email.KindEmail
	}
	if len(in.RawJSON) > 0 && looksLikeJSONObject(in.RawJSON) {
		return email.KindJSON
	}
	return email.KindText
}

func fromMIME(mimeType string) (email.Kind, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case mimeType == "":
		return "", false
	case mimeType == "message/rfc822":
		return email.KindEmail, true
	case mimeType == "application/pdf":
		return email.KindPDF, true
	case strings.HasPrefix(mimeType, "audio/"):
		return email.KindVoice, true
	case mimeType == "application/json":
		return email.KindJSON, true
	case strings.HasPrefix(mimeType, "image/"):
		return email.KindImage, true
	case strings.HasPrefix(mimeType, "video/"):
		return email.KindVideo, true
	case mimeType == "text/plain":
		return email.KindText, true
	}
	return "", false
}

func fromExt(ext string) (email.Kind, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "eml":
		return email.KindEmail, true
	case "pdf":
		return email.KindPDF, true
	case "mp3", "wav", "m4a", "ogg":
		return email.KindVoice, true
	case "json":
		return email.KindJSON, true
	case "jpg", "jpeg", "png", "gif", "webp":
		return email.KindImage, true
	case "mp4", "mov", "webm":
		return email.KindVideo, true
	case "txt":
		return email.KindText, true
	}
	return "", false
}

func looksLikeEmail(raw []byte) bool {
	head := raw
	if len(head) > 4096 {
		head = head[:4096]
	}
	s := strings.ToLower(string(head))
	return strings.Contains(s, "\nfrom:") || strings.HasPrefix(s, "from:") ||
		strings.Contains(s, "\nto:") || strings.HasPrefix(s, "to:") ||
		strings.Contains(s, "\nsubject:") || strings.HasPrefix(s, "subject:")
}

func looksLikeJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// Normalize dispatches Input to the normalizer for its (possibly
// detected) Kind. It never returns an error for bad input: failures are
// folded into a minimal Envelope carrying DropReasons, per §4.1's
// "any exception ... results in drop_reasons appended and a minimal
// envelope emitted ... the pipeline continues."
func Normalize(ctx context.Context, in Input, caps Capabilities, limits Limits) *email.Envelope {
	kind := Detect(in)
	env := &email.Envelope{
		Kind:       kind,
		ReceivedAt: in.Received,
		Source:     in.Source,
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now().UTC()
	}

	var err error
	switch kind {
	case email.KindEmail:
		err = normalizeEmail(ctx, env, in, caps, limits)
	case email.KindPDF:
		err = normalizePDF(ctx, env, in, caps, limits)
	case email.KindVoice:
		err = normalizeVoice(ctx, env, in, caps, limits)
	case email.KindURL:
		err = normalizeURL(ctx, env, in, caps, limits)
	case email.KindJSON, email.KindAPI:
		err = normalizeJSON(ctx, env, in, limits)
	case email.KindSMS, email.KindText:
		err = normalizeText(ctx, env, in, limits)
	case email.KindImage, email.KindVideo:
		err = normalizeMedia(ctx, env, in, caps, limits)
	default:
		env.AddDropReason("unknown_kind")
	}
	if err != nil {
		env.AddDropReason(err.Error())
	}

	env.Subject = email.Truncate(env.Subject, email.MaxSubjectLen)
	env.Preview = email.Truncate(env.Preview, previewLimit(limits))

	mintIdentity(ctx, env, caps)
	return env
}

func previewLimit(limits Limits) int {
	if limits.PreviewLen <= 0 {
		return email.MaxPreviewLen
	}
	if limits.PreviewLen > email.MaxPreviewLen {
		return email.MaxPreviewLen
	}
	return limits.PreviewLen
}

func mintIdentity(ctx context.Context, env *email.Envelope, caps Capabilities) {
	if caps.IDAuthority == nil {
		return
	}
	id, err := caps.IDAuthority.Mint(ctx, "envelope")
	if err != nil {
		if !caps.AllowAnon {
			env.AddDropReason("identity_unavailable")
		}
		return
	}
	env.Identity = id
}

func setBody(env *email.Envelope, body string, previewLen int) {
	env.Preview = email.Truncate(body, previewLen)
	env.ContentHash = email.ContentHash([]byte(body))
	env.SizeBytes = int64(len(body))
}
