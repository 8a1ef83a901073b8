package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rifatrzn/tax-assistant/config"
	"github.com/rifatrzn/tax-assistant/core/retrieval"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		sourceType string
		dirPath    string
		threshold  float64
		topK       int
		showPrompt bool
		jsonOutput bool
		indexType  string
		indexParam map[string]int
	)

	rootCmd := &cobra.Command{
		Use:          "taxassistant",
		Short:        "Ingest SEC filings into a vector store and retrieve grounding context",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (yaml)")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch filings from a source, chunk, embed and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("source") {
				cfg.Source.Type = sourceType
			}
			if cmd.Flags().Changed("dir") {
				cfg.Source.Dir.Path = dirPath
			}
			return runIngest(cmd.Context(), cfg, logger, jsonOutput)
		},
	}
	ingestCmd.Flags().StringVar(&sourceType, "source", "edgar", "Document source: edgar, s3 or dir")
	ingestCmd.Flags().StringVar(&dirPath, "dir", "", "Directory for the dir source")
	ingestCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the ingestion report as JSON")

	retrieveCmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve the grounding context for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			query := cfg.Query.Model()
			if cmd.Flags().Changed("threshold") {
				query.SimilarityThreshold = threshold
			}
			if cmd.Flags().Changed("top-k") {
				query.TopK = topK
			}
			return runRetrieve(cmd.Context(), cfg, logger, args[0], query, showPrompt)
		},
	}
	retrieveCmd.Flags().Float64Var(&threshold, "threshold", 0.7, "Minimum cosine similarity")
	retrieveCmd.Flags().IntVar(&topK, "top-k", 5, "Maximum number of results")
	retrieveCmd.Flags().BoolVar(&showPrompt, "prompt", false, "Print the system prompt instead of the raw results")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			assistant, err := newAssistant(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer assistant.Close()

			if err := assistant.Reset(cmd.Context()); err != nil {
				return err
			}
			if indexType == "" {
				return nil
			}
			params := make(map[string]interface{}, len(indexParam))
			for k, v := range indexParam {
				params[k] = v
			}
			return assistant.ChangeIndexType(cmd.Context(), indexType, params)
		},
	}
	resetCmd.Flags().StringVar(&indexType, "index-type", "", "Rebuild the postgres vector index as hnsw or ivfflat")
	resetCmd.Flags().StringToIntVar(&indexParam, "index-param", nil, "Index parameters, e.g. m=16,ef_construction=64 or lists=100")

	rootCmd.AddCommand(ingestCmd, retrieveCmd, resetCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runIngest(ctx context.Context, cfg *config.Config, logger *slog.Logger, jsonOutput bool) error {
	src, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	assistant, err := newAssistant(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer assistant.Close()

	report, err := assistant.IngestFrom(ctx, src)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Documents: %d\n", len(report.Documents))
	fmt.Printf("Chunks:    %d stored, %d failed of %d\n", report.Succeeded(), len(report.Failures()), report.TotalChunks)
	fmt.Printf("Duration:  %s\n", report.Duration)
	if report.Cancelled {
		fmt.Println("Ingestion was cancelled, the report is partial.")
	}
	for _, f := range report.Failures() {
		fmt.Printf("  failed %s: %v\n", f.ChunkID, f.Err)
	}
	return nil
}

func runRetrieve(ctx context.Context, cfg *config.Config, logger *slog.Logger, query string, queryConfig model.QueryConfig, showPrompt bool) error {
	assistant, err := newAssistant(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer assistant.Close()

	rc, err := assistant.Retrieve(ctx, query, &queryConfig)
	if err != nil {
		return err
	}

	if showPrompt {
		fmt.Println(retrieval.SystemPrompt(rc))
		return nil
	}
	if !rc.HasContext() {
		fmt.Println("No grounding context found.")
		return nil
	}
	for i, result := range rc.Results {
		meta := model.ParseRecordMetadata(result.Record.Metadata)
		fmt.Printf("%d. [%.4f] %s %s %s (chunk %d/%d)\n", i+1, result.Score,
			meta.Filing.CompanyName, meta.Filing.FormType, meta.Filing.FilingDate, meta.ChunkIndex+1, meta.TotalChunks)
		fmt.Println(result.Record.Content)
		fmt.Println()
	}
	return nil
}
