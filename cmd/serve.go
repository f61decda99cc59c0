package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/digest"
	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/internal/token"
	"github.com/sells-group/revenue-digest/pkg/amocrm"
)

var servePort int

// oauthFlow is satisfied by *token.Provider.
type oauthFlow interface {
	AuthorizeURL(ctx context.Context) (string, error)
	ExchangeCallback(ctx context.Context, code, state string) (*model.TokenPair, error)
}

// reportRunner is satisfied by *digest.Runner.
type reportRunner interface {
	Run(ctx context.Context) *digest.RunResult
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OAuth callback and report trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		runner, err := e.runner(initTelegram())
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(e.Tokens, runner, e.Source, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the HTTP routes. At most one report run is in flight at
// a time; a run continues after its client disconnects.
func buildRouter(tokens oauthFlow, runner reportRunner, access amocrm.TokenSource, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		target, err := tokens.AuthorizeURL(r.Context())
		if err != nil {
			zap.L().Error("serve: start authorization", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "authorization unavailable"})
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	})

	r.Get("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		if code == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
			return
		}

		pair, err := tokens.ExchangeCallback(r.Context(), code, q.Get("state"))
		switch {
		case errors.Is(err, token.ErrStateMissing):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state is required"})
			return
		case errors.Is(err, token.ErrStateMismatch):
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "state does not match"})
			return
		case err != nil:
			status := http.StatusBadGateway
			if fault.Is(err, fault.KindConfiguration) {
				status = http.StatusInternalServerError
			}
			writeJSON(w, status, map[string]string{
				"error":      err.Error(),
				"fault_kind": string(fault.KindOf(err)),
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "authorized",
			"expires_in": pair.ExpiresIn,
		})
	})

	var running sync.Mutex
	r.Post("/report/run", func(w http.ResponseWriter, r *http.Request) {
		if err := ensureAccessToken(r.Context(), access); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":      err.Error(),
				"fault_kind": string(fault.KindOf(err)),
			})
			return
		}
		if !running.TryLock() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "report run already in progress"})
			return
		}
		defer running.Unlock()

		result := runner.Run(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusOK, result)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
