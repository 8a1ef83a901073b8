package source

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rifatrzn/tax-assistant/model"
	"github.com/tidwall/gjson"
)

// ParseFilingJSON converts a filing export into a Document. The text comes
// from textContent, else from sections[] (title and content per section),
// else the raw JSON is used. key identifies the object the data was read from.
func ParseFilingJSON(key string, data []byte) (*model.Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse filing %s: invalid json", key)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("parse filing %s: expected a json object", key)
	}

	metadata := model.FilingMetadata{
		CompanyName:     root.Get("companyName").String(),
		CompanyCIK:      root.Get("cik").String(),
		FormType:        root.Get("formType").String(),
		FilingDate:      root.Get("filingDate").String(),
		AccessionNumber: root.Get("accessionNumber").String(),
		SourceKey:       key,
	}

	var content string
	switch {
	case root.Get("textContent").Exists():
		content = root.Get("textContent").String()
	case root.Get("sections").IsArray():
		var sections []string
		root.Get("sections").ForEach(func(_, section gjson.Result) bool {
			sections = append(sections, section.Get("title").String()+"\n"+section.Get("content").String())
			return true
		})
		content = strings.Join(sections, "\n\n")
	default:
		content = string(data)
	}

	id := strings.TrimSuffix(path.Base(key), path.Ext(key))
	if metadata.AccessionNumber != "" {
		id = metadata.AccessionNumber
	}

	return &model.Document{
		ID:        id,
		Title:     filingTitle(metadata, id),
		Content:   content,
		Metadata:  metadata,
		FetchedAt: time.Now(),
	}, nil
}

func filingTitle(m model.FilingMetadata, fallback string) string {
	var parts []string
	for _, p := range []string{m.CompanyName, m.FormType, m.FilingDate} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, " ")
}
