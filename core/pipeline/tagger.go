package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
)

// DefaultNERModel detects PER, ORG, LOC and MISC entities.
const DefaultNERModel = "KnightsAnalytics/distilbert-NER"

// Entity is a named entity found in a chunk.
type Entity struct {
	Text  string
	Label string
	Score float32
}

// TagFunc finds named entities in a text. Tagging is best effort, the
// Ingestor stores a chunk without entities when tagging fails.
type TagFunc func(text string) ([]Entity, error)

// EntityTagger runs a token classification model with hugot.
type EntityTagger struct {
	mu      sync.Mutex
	run     func(texts []string) ([][]Entity, error)
	destroy func() error
}

// DefaultEntityTagger creates an entity tagger using a NER model
func DefaultEntityTagger() (*EntityTagger, error) {
	// Using KnightsAnalytics optimized distilbert-NER model
	modelPath, err := helper.PrepareModel(DefaultNERModel, "model.onnx")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "ner-pipeline",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return &EntityTagger{
		run: func(texts []string) ([][]Entity, error) {
			result, err := nerPipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			out := make([][]Entity, len(result.Entities))
			for i, entities := range result.Entities {
				for _, e := range entities {
					out[i] = append(out[i], Entity{
						Text:  strings.TrimSpace(e.Word),
						Label: normalizeEntityLabel(e.Entity),
						Score: e.Score,
					})
				}
			}
			return out, nil
		},
		destroy: session.Destroy,
	}, nil
}

// Tag implements TagFunc.
func (t *EntityTagger) Tag(text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.run([]string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to run NER: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result[0], nil
}

func (t *EntityTagger) Close() error {
	if t.destroy == nil {
		return nil
	}
	return t.destroy()
}

// normalizeEntityLabel removes B- and I- prefixes from NER labels
func normalizeEntityLabel(label string) string {
	if strings.HasPrefix(label, "B-") || strings.HasPrefix(label, "I-") {
		return label[2:]
	}
	return label
}

// entityMetadata groups entity texts by label under "entities_<label>" keys,
// deduplicated and sorted. Entities below minScore are dropped.
func entityMetadata(entities []Entity, minScore float32) model.Metadata {
	byLabel := map[string]map[string]bool{}
	for _, e := range entities {
		if e.Text == "" || e.Score < minScore {
			continue
		}
		key := "entities_" + strings.ToLower(e.Label)
		if byLabel[key] == nil {
			byLabel[key] = map[string]bool{}
		}
		byLabel[key][e.Text] = true
	}

	m := model.Metadata{}
	for key, texts := range byLabel {
		sorted := make([]string, 0, len(texts))
		for text := range texts {
			sorted = append(sorted, text)
		}
		sort.Strings(sorted)

		values := make([]interface{}, len(sorted))
		for i, text := range sorted {
			values[i] = text
		}
		m[key] = values
	}
	return m
}
