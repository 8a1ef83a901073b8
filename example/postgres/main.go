package main

import (
	"context"
	"fmt"
	"log"
	"os"

	taxassistant "github.com/rifatrzn/tax-assistant"
	"github.com/rifatrzn/tax-assistant/core/pipeline"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/rifatrzn/tax-assistant/source"
)

// Ingests a directory of filings (txt, md, json, html, pdf) into a pgvector
// container using the local all-MiniLM-L6-v2 embedder.
func main() {
	if len(os.Args) < 3 {
		log.Fatalf("Usage: %s <filings dir> <query>", os.Args[0])
	}
	dir, queryText := os.Args[1], os.Args[2]
	ctx := context.Background()

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}

	assistant, err := taxassistant.NewWithPostgres(dbConfig, embedder,
		taxassistant.WithProgress(func(processed, total int) {
			fmt.Printf("\rEmbedded %d/%d chunks", processed, total)
		}),
	)
	if err != nil {
		log.Fatalf("Failed to create assistant: %v", err)
	}
	defer assistant.Close()

	report, err := assistant.IngestFrom(ctx, source.NewDirSource(dir, nil))
	if err != nil {
		log.Fatalf("Failed to ingest filings: %v", err)
	}
	fmt.Printf("\nStored %d chunks, %d failed\n", report.Succeeded(), len(report.Failures()))

	rc, err := assistant.Retrieve(ctx, queryText, nil)
	if err != nil {
		log.Fatalf("Failed to retrieve: %v", err)
	}
	if !rc.HasContext() {
		fmt.Println("No grounding context found.")
		return
	}
	for i, result := range rc.Results {
		meta := model.ParseRecordMetadata(result.Record.Metadata)
		fmt.Printf("%d. [%.4f] %s (%s)\n", i+1, result.Score, meta.DocumentID, meta.Filing.SourceKey)
	}
}
