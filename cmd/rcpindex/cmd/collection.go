package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rcpretrieval/internal/collection"
)

func newCollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Create, list, and delete collections",
	}
	cmd.AddCommand(newCollectionCreateCmd())
	cmd.AddCommand(newCollectionListCmd())
	cmd.AddCommand(newCollectionDeleteCmd())
	return cmd
}

func newCollectionCreateCmd() *cobra.Command {
	var embeddingModel, rerankerModel string
	var noSectionChunking bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new collection bound to an embedding/reranker model pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if embeddingModel == "" {
				embeddingModel = cfg.EmbeddingModel
			}
			if rerankerModel == "" {
				rerankerModel = cfg.RerankerModel
			}

			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			return engine.CreateCollection(cmd.Context(), collection.Collection{
				Name:             args[0],
				EmbeddingModelID: embeddingModel,
				RerankerModelID:  rerankerModel,
				ChunkBySection:   !noSectionChunking,
				LowConfidence:    collection.DefaultLowConfidence(),
			})
		},
	}

	cmd.Flags().StringVar(&embeddingModel, "embedding-model", "", "bi-encoder model id (defaults to EMBEDDING_MODEL)")
	cmd.Flags().StringVar(&rerankerModel, "reranker-model", "", "cross-encoder model id (defaults to RERANKER_MODEL)")
	cmd.Flags().BoolVar(&noSectionChunking, "no-section-chunking", false, "disable section-aware chunking for this collection")
	return cmd
}

func newCollectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collection names",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			names, err := engine.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newCollectionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection and its indexed data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			return engine.DeleteCollection(cmd.Context(), args[0])
		},
	}
}
