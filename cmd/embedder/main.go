package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"embed-service/internal/app"
	"embed-service/internal/embedapi"
	"embed-service/internal/httputil"
	"embed-service/internal/metrics"
	"embed-service/internal/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}

	err = run(ctx, deps)
	deps.Close()
	if err != nil {
		deps.Log.Error("embedder stopped", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("embedder stopped")
}

func run(ctx context.Context, deps app.Deps) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Log.Info("embedder listening", "addr", srv.Addr, "model", deps.Provider.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(deps.Config.ShutdownTimeout)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.Responder != nil {
		g.Go(func() error {
			return deps.Responder.Serve(gctx, deps.Config.EmbedSubject, embedMessageHandler(deps))
		})
	}

	return g.Wait()
}

func newRouter(deps app.Deps) *chi.Mux {
	r := httputil.NewRouter(deps.Log)

	r.Get("/health", healthHandler(deps))
	r.Post("/embed", embedHandler(deps))
	r.Handle("/metrics", metrics.Handler())
	return r
}

func healthHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, embedapi.Health(deps.Provider.Model()))
	}
}

func embedHandler(deps app.Deps) http.HandlerFunc {
	maxBodySize := deps.Config.MaxBodySize

	return func(w http.ResponseWriter, r *http.Request) {
		body := r.Body
		if maxBodySize > 0 {
			body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}

		req, err := embedapi.DecodeRequest(body, deps.Config.MaxTexts)
		if err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		resp, err := embedapi.Embed(r.Context(), deps.Provider, req.Texts)
		if err != nil {
			httputil.Fail(deps.Log.With("texts", len(req.Texts)), w, "failed to encode texts", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// embedMessageHandler serves the embed contract over NATS with the same
// validation and status codes as POST /embed.
func embedMessageHandler(deps app.Deps) queue.Handler {
	return func(ctx context.Context, data []byte) ([]byte, int) {
		if limit := deps.Config.MaxBodySize; limit > 0 && int64(len(data)) > limit {
			return errorReply(embedapi.ErrorResponse{Error: fmt.Sprintf("request body too large (max %d bytes)", limit)}), http.StatusRequestEntityTooLarge
		}

		req, err := embedapi.DecodeRequest(bytes.NewReader(data), deps.Config.MaxTexts)
		if err != nil {
			var reqErr *embedapi.RequestError
			if errors.As(err, &reqErr) {
				deps.Log.Warn("invalid request", "err", err)
				return errorReply(reqErr.Response()), http.StatusBadRequest
			}
			return errorReply(embedapi.ErrorResponse{Error: "invalid payload"}), http.StatusBadRequest
		}

		resp, err := embedapi.Embed(ctx, deps.Provider, req.Texts)
		if err != nil {
			deps.Log.Error("failed to encode texts", "err", err, "texts", len(req.Texts))
			return errorReply(embedapi.ErrorResponse{Error: "failed to encode texts"}), http.StatusInternalServerError
		}
		out, err := json.Marshal(resp)
		if err != nil {
			deps.Log.Error("marshal response failed", "err", err)
			return errorReply(embedapi.ErrorResponse{Error: "failed to encode response"}), http.StatusInternalServerError
		}
		return out, http.StatusOK
	}
}

func errorReply(e embedapi.ErrorResponse) []byte {
	out, _ := json.Marshal(e)
	return out
}
