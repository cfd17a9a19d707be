package htmlsafe

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	a "golang.org/x/net/html/atom"
)

// skipTextTags never contribute their contents to ExtractText's output.
var skipTextTags = map[a.Atom]bool{
	a.Script: true,
	a.Style:  true,
	a.Head:   true,
}

// ExtractText strips all markup from an HTML document and returns the
// visible text, collapsing runs of whitespace the way a reader would see
// them rendered. It never fails: malformed HTML degrades to whatever the
// tokenizer could recover, matching how the normalizers in this gateway
// treat bad input as best-effort rather than fatal.
func ExtractText(src io.Reader) string {
	var buf strings.Builder
	skipDepth := 0

	z := html.NewTokenizer(src)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if skipTextTags[t.DataAtom] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if t.DataAtom == a.Br || t.DataAtom == a.P || t.DataAtom == a.Div {
				buf.WriteByte('\n')
			}
		case html.EndTagToken:
			t := z.Token()
			if skipTextTags[t.DataAtom] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if t.DataAtom == a.P || t.DataAtom == a.Div || t.DataAtom == a.Tr {
				buf.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				buf.Write(z.Text())
			}
		}
	}
	return collapseWhitespace(buf.String())
}

func collapseWhitespace(s string) string {
	var out strings.Builder
	lastWasSpace := false
	lastWasNewline := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t'
		isNewline := r == '\n' || r == '\r'
		switch {
		case isNewline:
			if !lastWasNewline {
				out.WriteByte('\n')
			}
			lastWasNewline = true
			lastWasSpace = false
		case isSpace:
			if !lastWasSpace && !lastWasNewline {
				out.WriteByte(' ')
			}
			lastWasSpace = true
		default:
			out.WriteRune(r)
			lastWasSpace = false
			lastWasNewline = false
		}
	}
	return strings.TrimSpace(out.String())
}
