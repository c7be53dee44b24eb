/*
main.go - Application entry point

PURPOSE:
  Command-line front end for the billing engine: runs the HTTP service
  with its scheduled jobs, runs a single job by hand, seeds a fresh
  database, and mints access tokens for local testing.

COMMANDS:
  serve          HTTP API + invoice/surcharge schedules until SIGINT/SIGTERM
  run <job>      Run generate-invoices or apply-surcharges once and exit
  seed           Default prices (1000 / 100) and a demo house if absent
  token          Print a signed JWT for a user id and role

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections and new job triggers
  2. Cancel running jobs and wait for in-flight requests (30s timeout)
  3. Close the Redis client and the database

CONFIGURATION:
  See config/config.go. --config points at an optional YAML file;
  BILLING_* environment variables and .env override it.

EXAMPLES:
  ./billing serve --config=./billing.yaml
  ./billing run generate-invoices
  BILLING_AUTH_JWT_SECRET=dev ./billing token --user resident-1 --role RESIDENT

SEE ALSO:
  - app.go: Dependency wiring shared by all commands
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
)

var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "billing",
		Short:         "Resident billing and payment reconciliation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(serveCmd(&configFile))
	rootCmd.AddCommand(runCmd(&configFile))
	rootCmd.AddCommand(seedCmd(&configFile))
	rootCmd.AddCommand(tokenCmd(&configFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			auth, err := api.NewAuthenticator(a.cfg.Auth.JWTSecret)
			if err != nil {
				return fmt.Errorf("auth.jwt_secret: %w", err)
			}

			sched, err := a.newScheduler(cmd.Context())
			if err != nil {
				return err
			}

			handler := api.NewHandler(a.store, a.sessions, a.reconciler, a.pricing, a.logger)
			handler.Jobs = sched
			handler.Metrics = a.metrics
			if a.mock != nil {
				handler.MockCheckout = a.mock
				handler.MockWebhookSecret = a.webhookSecret
			}

			server := &http.Server{
				Addr: a.cfg.Addr(),
				Handler: api.NewRouter(handler, auth, api.RouterOptions{
					AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
					RequestTimeout: a.cfg.Timeouts.Request,
				}),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      a.cfg.Timeouts.Request + 5*time.Second,
				IdleTimeout:       60 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				a.logger.Info("http server listening", "addr", server.Addr, "mock_gateway", a.mock != nil)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})

			sched.Start(ctx)

			g.Go(func() error {
				<-ctx.Done()
				a.logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				schedErr := sched.Stop(shutdownCtx)
				if err := server.Shutdown(shutdownCtx); err != nil {
					return errors.Join(schedErr, fmt.Errorf("http shutdown: %w", err))
				}
				return schedErr
			})

			if err := g.Wait(); err != nil {
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
}

func runCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       fmt.Sprintf("run <%s|%s>", billing.JobGenerateInvoices, billing.JobApplySurcharges),
		Short:     "Run one billing job now and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{billing.JobGenerateInvoices, billing.JobApplySurcharges},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.newScheduler(cmd.Context())
			if err != nil {
				return err
			}

			report, err := sched.RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: generated=%d skipped=%d failed=%d duration=%s\n",
				report.Job, report.Generated, report.Skipped, report.Failed, report.Duration())
			return nil
		},
	}
}

func seedCmd(configFile *string) *cobra.Command {
	var houseNo, userID string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create default prices and a demo house if absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.seed(cmd.Context(), houseNo, billing.UserID(userID))
		},
	}

	cmd.Flags().StringVar(&houseNo, "house-no", "A-1", "House number for the demo house")
	cmd.Flags().StringVar(&userID, "user", "resident-1", "Resident user id for the demo house")
	return cmd
}

func tokenCmd(configFile *string) *cobra.Command {
	var userID, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configFile)
			if err != nil {
				return err
			}

			auth, err := api.NewAuthenticator(cfg.Auth.JWTSecret)
			if err != nil {
				return fmt.Errorf("auth.jwt_secret: %w", err)
			}
			tok, err := auth.Generate(billing.UserID(userID), api.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "resident-1", "User id to embed")
	cmd.Flags().StringVar(&role, "role", string(api.RoleResident), "RESIDENT or ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
