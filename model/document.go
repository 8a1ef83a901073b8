package model

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Metadata keys shared by documents, chunks and stored records.
const (
	MetaCompanyName     = "company_name"
	MetaCompanyCIK      = "company_cik"
	MetaFormType        = "form_type"
	MetaFilingDate      = "filing_date"
	MetaAccessionNumber = "accession_number"
	MetaSourceKey       = "s3_key"
	MetaDocumentID      = "document_id"
	MetaChunkIndex      = "chunk_index"
	MetaTotalChunks     = "total_chunks"
)

// FilingMetadata describes where a document comes from. The named fields are
// the ones the pipeline reads, everything else lives in Extra.
type FilingMetadata struct {
	CompanyName     string   `json:"company_name,omitempty"`
	CompanyCIK      string   `json:"company_cik,omitempty"`
	FormType        string   `json:"form_type,omitempty"`
	FilingDate      string   `json:"filing_date,omitempty"`
	AccessionNumber string   `json:"accession_number,omitempty"`
	SourceKey       string   `json:"s3_key,omitempty"`
	Extra           Metadata `json:"extra,omitempty"`
}

// Metadata flattens the filing metadata into a single map.
// Named fields override keys of the same name in Extra.
func (f FilingMetadata) Metadata() Metadata {
	m := f.Extra.Clone()
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	set(MetaCompanyName, f.CompanyName)
	set(MetaCompanyCIK, f.CompanyCIK)
	set(MetaFormType, f.FormType)
	set(MetaFilingDate, f.FilingDate)
	set(MetaAccessionNumber, f.AccessionNumber)
	set(MetaSourceKey, f.SourceKey)
	return m
}

// FilingMetadataFromMap is the inverse of FilingMetadata.Metadata.
// Unknown keys end up in Extra.
func FilingMetadataFromMap(m Metadata) FilingMetadata {
	f := FilingMetadata{
		CompanyName:     m.String(MetaCompanyName),
		CompanyCIK:      m.String(MetaCompanyCIK),
		FormType:        m.String(MetaFormType),
		FilingDate:      m.String(MetaFilingDate),
		AccessionNumber: m.String(MetaAccessionNumber),
		SourceKey:       m.String(MetaSourceKey),
	}
	for k, v := range m {
		switch k {
		case MetaCompanyName, MetaCompanyCIK, MetaFormType, MetaFilingDate, MetaAccessionNumber, MetaSourceKey:
			continue
		}
		if f.Extra == nil {
			f.Extra = Metadata{}
		}
		f.Extra[k] = v
	}
	return f
}

// Document is a fetched filing. It is owned by the caller and never mutated
// by the pipeline.
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content"`
	Metadata  FilingMetadata `json:"metadata"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// NewDocumentFromFile reads a file and creates a Document with the file content.
// The id and title default to the filename without extension.
func NewDocumentFromFile(filePath string, metadata FilingMetadata) (*Document, error) {
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	if title == "" {
		title = filename
	}
	if metadata.SourceKey == "" {
		metadata.SourceKey = filePath
	}

	return &Document{
		ID:        title,
		Title:     title,
		Content:   string(content),
		Metadata:  metadata,
		FetchedAt: time.Now(),
	}, nil
}
