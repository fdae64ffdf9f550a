package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/analysis"
	"github.com/sertao-labs/sentinela/internal/api"
	"github.com/sertao-labs/sentinela/internal/export"
)

var servePort int

// sessionSweepInterval is how often idle dashboard sessions are evicted.
const sessionSweepInterval = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAnalysis(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Server.ExportSecret == "" {
			return eris.New("server export secret is required (SENTINELA_SERVER_EXPORT_SECRET)")
		}
		signer := export.NewSigner(cfg.Server.ExportSecret,
			time.Duration(cfg.Server.ExportTTLMins)*time.Minute)

		sessions := analysis.NewManager(env.Service, 30*time.Minute)
		go func() {
			ticker := time.NewTicker(sessionSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := sessions.Sweep(); n > 0 {
						zap.L().Debug("sessions evicted", zap.Int("count", n))
					}
				}
			}
		}()

		localities := initLocalities()
		server := api.NewServer(
			localities,
			initResolver(env.Store, localities),
			sessions,
			env.Store,
			signer,
			cfg.Server.AllowedOrigins,
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
