package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	taxassistant "github.com/rifatrzn/tax-assistant"
	"github.com/rifatrzn/tax-assistant/core/pipeline"
	"github.com/rifatrzn/tax-assistant/core/retrieval"
	"github.com/rifatrzn/tax-assistant/database"
	"github.com/rifatrzn/tax-assistant/model"
)

const sampleContent = `Apple Inc. designs, manufactures and markets smartphones, personal computers, tablets, wearables and accessories, and sells a variety of related services.

Income Taxes. The Company's effective tax rate for 2023 was 14.7%. The effective tax rate was lower than the statutory federal income tax rate of 21% due primarily to a lower effective tax rate on foreign earnings, the impact of the U.S. federal R&D credit, and tax benefits from share-based compensation.

Deferred tax assets and liabilities reflect the future tax consequences of events that have already been recognized in the financial statements. As of September 30, 2023, the Company had deferred tax assets arising from capitalized research and development expenditures and accrued liabilities, net of a valuation allowance.

Risk Factors. The Company's business, reputation, results of operations, financial condition and stock price can be affected by a number of factors, including changes in tax laws, the outcome of tax examinations and fluctuations in foreign currency exchange rates.`

func main() {
	ctx := context.Background()

	// Deterministic offline embedder, swap for pipeline.NewOpenAIEmbedder in production
	embedder, err := pipeline.NewHashEmbedder(384)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	store, err := database.NewMemoryStore(embedder.Dimensions())
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}

	config := model.DefaultIngestConfig()
	config.Chunk = model.ChunkConfig{ChunkSize: 300, Overlap: 50}

	assistant, err := taxassistant.New(store, embedder, taxassistant.WithIngestConfig(config))
	if err != nil {
		log.Fatalf("Failed to create assistant: %v", err)
	}
	defer assistant.Close()

	doc := &model.Document{
		ID:      "apple-10k-2023",
		Title:   "Apple Inc. 10-K 2023",
		Content: sampleContent,
		Metadata: model.FilingMetadata{
			CompanyName: "Apple Inc.",
			CompanyCIK:  "0000320193",
			FormType:    "10-K",
			FilingDate:  "2023-11-03",
		},
	}

	fmt.Println("Ingesting document...")
	report, err := assistant.Ingest(ctx, []*model.Document{doc})
	if err != nil {
		log.Fatalf("Failed to ingest document: %v", err)
	}
	fmt.Printf("Stored %d of %d chunks\n", report.Succeeded(), report.TotalChunks)

	queryText := "What was the effective tax rate?"
	fmt.Printf("\nQuerying: %s\n", queryText)

	queryConfig := model.DefaultQueryConfig()
	queryConfig.SimilarityThreshold = 0.2
	rc, err := assistant.Retrieve(ctx, queryText, &queryConfig)
	if err != nil {
		log.Fatalf("Failed to retrieve: %v", err)
	}

	for i, result := range rc.Results {
		meta := model.ParseRecordMetadata(result.Record.Metadata)
		fmt.Printf("\n%d. Score: %.4f, chunk %d of %d\n", i+1, result.Score, meta.ChunkIndex+1, meta.TotalChunks)
		fmt.Printf("   %s\n", strings.ReplaceAll(result.Record.Content, "\n", " "))
	}

	fmt.Println("\nSystem prompt:")
	fmt.Println(retrieval.SystemPrompt(rc))
}
