package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftdrop/internal/app"
	"shiftdrop/internal/config"
	"shiftdrop/internal/engine"
	"shiftdrop/internal/outbox"
)

func outboxCmd() *cobra.Command {
	ob := &cobra.Command{Use: "outbox", Short: "Inspect and manage pending notifications"}
	ob.AddCommand(outboxListCmd())
	ob.AddCommand(outboxStatsCmd())
	ob.AddCommand(outboxCancelCmd())
	ob.AddCommand(outboxPurgeCmd())
	return ob
}

func outboxListCmd() *cobra.Command {
	var status, reference string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !outbox.Status(status).Valid() {
				return fmt.Errorf("--status must be one of Pending, Sent, Failed, Cancelled")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msgs, err := e.ListOutbox(ctx, outbox.ListFilter{
					Status:    outbox.Status(status),
					Reference: reference,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Retries", "Next retry", "Last error"})
				for _, m := range msgs {
					next := ""
					if m.NextRetryAt != nil {
						next = m.NextRetryAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{m.ID, m.MessageType, m.Status, m.RetryCount, next, truncate(m.LastError, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&reference, "reference", "", "filter by shift, casual or admin id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func outboxStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count messages per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.OutboxStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, s := range []outbox.Status{outbox.StatusPending, outbox.StatusSent, outbox.StatusFailed, outbox.StatusCancelled} {
					tw.AppendRow(table.Row{s, counts[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func outboxCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <message-id>",
		Short: "Withdraw a pending message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.CancelMessage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": args[0], "cancelled": ok})
			})
		},
	}
}

func outboxPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished messages older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !cmd.Flags().Changed("older-than") {
					olderThan = rt.Config.Outbox.Janitor.Retention
				}
				n, err := rt.Engine.PurgeOutbox(ctx, olderThan)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"deleted": n, "older_than": olderThan.String()})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (default outbox.janitor.retention)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Show, validate or create shiftdrop.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := c.Render()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default shiftdrop.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	return cfg
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
