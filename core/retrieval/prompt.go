package retrieval

import (
	"strings"

	"github.com/rifatrzn/tax-assistant/model"
)

const assistantInstructions = `You are a tax assistant that answers questions about SEC filings such as 10-K and 10-Q reports.
Base your answer on the filing excerpts below. Cite the company and form type when you use an excerpt.
If the excerpts do not contain the answer, say so instead of guessing.`

const noContextInstructions = `You are a tax assistant that answers questions about SEC filings such as 10-K and 10-Q reports.
No grounding context was found in the indexed filings for this question.
Tell the user that the filings do not cover it and answer only from general knowledge, clearly marked as such.`

// SystemPrompt renders the instructions for the answer generator. A
// retrieval without results yields the explicit no context variant.
func SystemPrompt(rc *model.RetrievalContext) string {
	if !rc.HasContext() {
		return noContextInstructions
	}

	var sb strings.Builder
	sb.WriteString(assistantInstructions)
	sb.WriteString("\n\nContext:\n")
	for i, result := range rc.Results {
		if i > 0 {
			sb.WriteString(ContextSeparator)
		}
		meta := model.ParseRecordMetadata(result.Record.Metadata)
		if label := sourceLabel(meta.Filing); label != "" {
			sb.WriteString("[")
			sb.WriteString(label)
			sb.WriteString("]\n")
		}
		sb.WriteString(result.Record.Content)
	}
	return sb.String()
}

func sourceLabel(f model.FilingMetadata) string {
	var parts []string
	for _, p := range []string{f.CompanyName, f.FormType, f.FilingDate} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
