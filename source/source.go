package source

import (
	"context"
	"io"
	"strings"

	"github.com/rifatrzn/tax-assistant/model"
	"golang.org/x/net/html"
)

// Source yields documents for ingestion. Failures of single documents are
// logged and skipped, an error means the source as a whole could not be read.
type Source interface {
	Fetch(ctx context.Context) ([]*model.Document, error)
}

// htmlText extracts the visible text of an HTML document, one line per
// block of text. Script and style contents are dropped.
func htmlText(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	var sb strings.Builder
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return "", err
			}
			return strings.TrimSpace(sb.String()), nil
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(tokenizer.Text())), " ")
			if text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(text)
		}
	}
}
