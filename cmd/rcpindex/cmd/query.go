package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rcpretrieval/internal/retrieval"
)

func newQueryCmd() *cobra.Command {
	var (
		collectionName string
		strategy       string
		retrievalTopK  int
		rerankerTopK   int
		noRerank       bool
		embeddingModel string
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a retrieval query against a collection",
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

			rerank := !noRerank
			resp, err := engine.Retrieve(cmd.Context(), retrieval.Request{
				Query:          args[0],
				Collection:     collectionName,
				Strategy:       retrieval.Strategy(strategy),
				RetrievalTopK:  retrievalTopK,
				RerankerTopK:   rerankerTopK,
				Rerank:         &rerank,
				EmbeddingModel: embeddingModel,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&collectionName, "collection", "", "collection to query (required)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "dense, sparse, or hybrid (default hybrid)")
	cmd.Flags().IntVar(&retrievalTopK, "retrieval-top-k", 0, "pre-rerank candidate pool size per sub-retrieval")
	cmd.Flags().IntVar(&rerankerTopK, "reranker-top-k", 0, "final result count")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "skip the cross-encoder rerank pass")
	cmd.Flags().StringVar(&embeddingModel, "embedding-model", "", "reject the query if it doesn't match the collection's bound embedding model")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}
