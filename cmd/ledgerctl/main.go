// ledgerctl is the terminal surface of the ledger: it drives the same
// reconciliation engine as the HTTP server without the network hop.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/johanbring/timedollar/internal/audit"
	"github.com/johanbring/timedollar/internal/config"
	"github.com/johanbring/timedollar/internal/mail"
	"github.com/johanbring/timedollar/internal/repository"
	"github.com/johanbring/timedollar/internal/service"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Email-settled transaction ledger",
		Long:  "Send transactions by email, reconcile the inbox into the ledger, and inspect the result.",
	}
	cmd.AddCommand(newSendCommand())
	cmd.AddCommand(newReconcileCommand())
	cmd.AddCommand(newLedgerCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newSettingsCommand())
	return cmd
}

// app holds the wired layers shared by the commands.
type app struct {
	db  *sql.DB
	svc *service.Service
}

func setup() (*app, error) {
	logger := logrus.New()
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.WarnLevel
	}
	logger.SetLevel(logLevel)

	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := repository.NewRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	transport := mail.NewTransport(settings, cfg, logger)

	return &app{db: db, svc: service.NewService(repo, transport, logger)}, nil
}

func (a *app) close() {
	a.db.Close()
}

func newSendCommand() *cobra.Command {
	var to, amount, message string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Initiate an outbound transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(amount, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", amount)
			}

			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			tx, err := a.svc.Initiate(cmd.Context(), to, value, message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %.2f to %s (key %s)\n", -tx.Amount, tx.Counterparty, tx.IdempotencyKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "counterparty email address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to send")
	cmd.Flags().StringVar(&message, "message", "", "memo")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("message")
	return cmd
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Scan the inbox and record new inbound transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.svc.ReconcileInbox(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d, recorded %d, duplicates %d, skipped %d\n",
				report.Fetched, report.Recorded, report.Duplicates, report.Skipped)
			return nil
		},
	}
}

func newLedgerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "List all transactions with the running total",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			txs, total, err := a.svc.ListAndTotal(cmd.Context())
			if err != nil {
				return err
			}
			for _, tx := range txs {
				fmt.Fprintf(cmd.OutOrStdout(), "ID: %d, Counterparty: %s, Amount: %g, Message: %s, Date: %s\n",
					tx.ID, tx.Counterparty, tx.Amount, tx.Message, tx.Timestamp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total Ledger Value: $%.2f\n", total)
			return nil
		},
	}
}

func newExportCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger as an XML audit document",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			txs, total, err := a.svc.ListAndTotal(cmd.Context())
			if err != nil {
				return err
			}
			data, err := audit.ExportXML(txs, total)
			if err != nil {
				return err
			}
			if out == "" {
				cmd.OutOrStdout().Write(data)
				return nil
			}
			return os.WriteFile(out, data, 0o644)
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}

func newSettingsCommand() *cobra.Command {
	var email, password, smtpServer, imapServer string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Save the mail account settings document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			settings := &config.Settings{
				Email:      email,
				Password:   password,
				SMTPServer: smtpServer,
				IMAPServer: imapServer,
			}
			if err := config.SaveSettings(cfg.SettingsFile, settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings saved to %s\n", cfg.SettingsFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "mail account address")
	cmd.Flags().StringVar(&password, "password", "", "mail account password")
	cmd.Flags().StringVar(&smtpServer, "smtp", "", "SMTP server hostname")
	cmd.Flags().StringVar(&imapServer, "imap", "", "IMAP server hostname")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}
