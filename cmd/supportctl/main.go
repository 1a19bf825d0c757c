package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/models"
	"bitbucket.org/gigvora/support_backend/supportsync"
	"bitbucket.org/gigvora/support_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "supportctl",
		Short: "Operations for the support conversation sync service",
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(slaSweepCmd())
	root.AddCommand(signCmd())
	root.AddCommand(topicCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the support tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.ConnectDatabaseWithRetry()
			if err := models.AutoMigrate(config.GetDB()); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func slaSweepCmd() *cobra.Command {
	var caseId int
	cmd := &cobra.Command{
		Use:   "sla-sweep",
		Short: "Evaluate SLA breaches for unresolved cases once",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSupportSettings()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			config.ConnectDatabaseWithRetry()
			logger := config.GetLogger()
			engine := supportsync.NewEngine(config.GetDB(), settings,
				supportsync.WithCache(supportsync.NewGlobalRedisCache()),
				supportsync.WithNotifier(supportsync.NewNotifier(settings, logger)),
				supportsync.WithLogger(logger),
			)

			if caseId > 0 {
				res, err := engine.EvaluateCase(ctx, caseId)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "case %d: priority=%s first_response_breached=%t resolution_breached=%t\n",
					caseId, res.Priority, res.Escalation.FirstResponseBreached, res.Escalation.ResolutionBreached)
				return nil
			}

			stats, err := engine.SweepOnce(ctx)
			logger.WithFields(logrus.Fields{
				"field":     "sla-sweep",
				"scanned":   stats.Scanned,
				"escalated": stats.Escalated,
				"failed":    stats.Failed,
			}).Info("sla sweep finished")
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d escalated=%d failed=%d\n", stats.Scanned, stats.Escalated, stats.Failed)
			return err
		},
	}
	cmd.Flags().IntVar(&caseId, "case", 0, "evaluate a single support case id")
	return cmd
}

func signCmd() *cobra.Command {
	var (
		secret string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the webhook signature header for a payload",
		Long:  "Reads a payload from --file (or stdin) and prints the sha256 signature the webhook endpoint expects.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("CHATWOOT_WEBHOOK_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or CHATWOOT_WEBHOOK_SECRET is required")
			}
			var (
				body []byte
				err  error
			)
			if file == "" || file == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sha256=%s\n", supportsync.Sign(body, secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "webhook signing secret")
	cmd.Flags().StringVar(&file, "file", "", "payload file (default stdin)")
	return cmd
}

func topicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-topic",
		Short: "Create the escalation Pub/Sub topic if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSupportSettings()
			if err != nil {
				return err
			}
			if settings.EscalationTopic == "" {
				return fmt.Errorf("SUPPORT_ESCALATION_TOPIC is not set")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			client, err := config.GetClient(ctx)
			if err != nil {
				return err
			}
			topic, err := config.CreateTopicIfNotExists(client, settings.EscalationTopic)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), topic.String())
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userId int
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for calling the support API as a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userId <= 0 {
				return fmt.Errorf("--user is required")
			}
			token, err := utils.JwtGenerate(userId, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().IntVar(&userId, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", "user", "role claim")
	return cmd
}
