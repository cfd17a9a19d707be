package normalize

import (
	"context"
	"strings"
	"time"

	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/html/htmlsafe"
)

// urlConnectBudget and urlTotalBudget are the §4.1 URL normalizer's
// HTTP GET budgets.
const (
	urlConnectBudget = 5 * time.Second
	urlTotalBudget   = 15 * time.Second
)

// normalizeURL implements §4.1's URL rule: one bounded HTTP GET, body is
// HTML stripped of tags, subject is the contents of <title> or "Untitled".
func normalizeURL(ctx context.Context, env *email.Envelope, in Input, caps Capabilities, limits Limits) error {
	url := in.RawURL
	if url == "" {
		url = in.Source
	}
	env.Source = url

	if caps.Fetcher == nil {
		env.AddDropReason("no_fetcher")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, urlTotalBudget)
	defer cancel()

	raw, _, err := caps.Fetcher.Fetch(ctx, url)
	if err != nil {
		env.AddDropReason("url_fetch_failed")
		return nil
	}

	html := string(raw)
	env.Subject = extractTitle(html)
	body := htmlsafe.ExtractText(strings.NewReader(html))
	setBody(env, body, previewLimit(limits))
	return nil
}

func extractTitle(htmlDoc string) string {
	lower := strings.ToLower(htmlDoc)
	start := strings.Index(lower, "<title>")
	if start < 0 {
		return "Untitled"
	}
	start += len("<title>")
	end := strings.Index(lower[start:], "</title>")
	if end < 0 {
		return "Untitled"
	}
	title := strings.TrimSpace(htmlDoc[start : start+end])
	if title == "" {
		return "Untitled"
	}
	return title
}
