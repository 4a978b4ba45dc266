package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normadata/boerag/internal/pipeline"
	"github.com/normadata/boerag/internal/ragapi"
	"github.com/normadata/boerag/internal/vectorstore"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval HTTP API",
		Long: `serve exposes POST /rag/search and /rag/answer, GET /rag/unidad/{id},
GET /rag/catalog/ccaa, GET /health and GET /pipeline/stats over the
indexed chunks. SIGINT or SIGTERM shuts down gracefully.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			vectors, err := vectorstore.New(svc.cfg.Qdrant, rootLog)
			if err != nil {
				return err
			}
			defer func() { _ = vectors.Close() }()

			embedder, err := svc.newEmbedder()
			if err != nil {
				return err
			}
			chat := ragapi.NewOpenAIChat(svc.cfg.Embeddings.OpenAIBaseURL, svc.cfg.Embeddings.OpenAIAPIKey)

			// Stats keep working without Redis; the endpoint reports 503.
			var broker pipeline.FlowBroker
			if b, err := svc.openBroker(ctx); err == nil {
				broker = b
				defer func() { _ = b.Close() }()
			} else {
				rootLog.Warn("queue broker unavailable, /pipeline/stats disabled", "error", err)
			}

			api := ragapi.New(svc.store, vectors, embedder, chat, broker, svc.cfg.RAG, rootLog)

			addr := svc.cfg.RAG.ListenAddr
			if listenAddr != "" {
				addr = listenAddr
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           api.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			rootLog.Info("retrieval API listening", "addr", addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default: config)")
	return cmd
}
