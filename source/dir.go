package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
)

// DirSource reads filings from a local directory tree. JSON files are parsed
// like S3 exports, PDF and HTML files are reduced to their text and
// .txt/.md files are read as they are.
type DirSource struct {
	root string
	log  *slog.Logger
}

func NewDirSource(root string, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = helper.DiscardLogger()
	}
	return &DirSource{root: root, log: logger}
}

func (s *DirSource) Fetch(ctx context.Context) ([]*model.Document, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, helper.NewError("read directory", err)
	}
	if !info.IsDir() {
		return nil, helper.NewError("read directory", fmt.Errorf("%s is not a directory", s.root))
	}

	var docs []*model.Document
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		doc, err := s.read(path)
		if err != nil {
			s.log.Warn("Skipping file", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		if doc != nil {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return docs, helper.NewError("walk directory", err)
	}

	s.log.Info("Read filings from directory", slog.String("root", s.root), slog.Int("documents", len(docs)))
	return docs, nil
}

// read returns nil for files of an unsupported type.
func (s *DirSource) read(path string) (*model.Document, error) {
	key, err := filepath.Rel(s.root, path)
	if err != nil {
		key = path
	}
	key = filepath.ToSlash(key)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		return ParseFilingJSON(key, data)
	case ".pdf":
		text, err := pdfText(path)
		if err != nil {
			return nil, err
		}
		return fileDocument(path, key, text), nil
	case ".htm", ".html":
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		text, err := htmlText(f)
		if err != nil {
			return nil, err
		}
		return fileDocument(path, key, text), nil
	case ".txt", ".md":
		doc, err := model.NewDocumentFromFile(path, model.FilingMetadata{SourceKey: key})
		if err != nil {
			return nil, err
		}
		doc.ID = strings.TrimSuffix(key, filepath.Ext(key))
		return doc, nil
	}
	return nil, nil
}

// fileDocument uses the relative path without extension as id, so files
// with the same name in different folders stay apart.
func fileDocument(path, key, text string) *model.Document {
	name := filepath.Base(path)
	return &model.Document{
		ID:        strings.TrimSuffix(key, filepath.Ext(key)),
		Title:     strings.TrimSuffix(name, filepath.Ext(name)),
		Content:   text,
		Metadata:  model.FilingMetadata{SourceKey: key},
		FetchedAt: time.Now(),
	}
}

func pdfText(path string) (string, error) {
	f, reader, err := pdf.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
