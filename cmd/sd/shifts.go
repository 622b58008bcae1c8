package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftdrop/internal/domain"
	"shiftdrop/internal/engine"
)

func shiftCmd() *cobra.Command {
	shift := &cobra.Command{Use: "shift", Short: "Post, claim and release shifts"}
	shift.AddCommand(shiftPostCmd())
	shift.AddCommand(shiftListCmd())
	shift.AddCommand(shiftShowCmd())
	shift.AddCommand(shiftClaimCmd("claim", "Claim a spot for a casual", engine.Engine.ClaimShift))
	shift.AddCommand(shiftClaimCmd("release", "Release a casual's own claim", engine.Engine.ReleaseShift))
	shift.AddCommand(shiftClaimCmd("manager-release", "Release a casual's claim as a pool admin", engine.Engine.ManagerRelease))
	shift.AddCommand(shiftCancelCmd())
	return shift
}

func shiftPostCmd() *cobra.Command {
	var poolID, description, startsAt, endsAt string
	var spots int
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a shift and broadcast it to the pool",
		Example: `  sd shift post --pool <id> --description "Friday bar" \
    --starts-at 2025-06-06T18:00:00+10:00 --ends-at 2025-06-07T00:00:00+10:00 --spots 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.RFC3339, startsAt)
			if err != nil {
				return fmt.Errorf("--starts-at: %w", err)
			}
			end, err := time.Parse(time.RFC3339, endsAt)
			if err != nil {
				return fmt.Errorf("--ends-at: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.PostShift(ctx, engine.PostShiftOptions{
					PoolID:      poolID,
					Description: description,
					StartsAt:    start,
					EndsAt:      end,
					SpotsNeeded: spots,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&poolID, "pool", "", "pool id")
	cmd.Flags().StringVar(&description, "description", "", "what the shift is")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&endsAt, "ends-at", "", "end time (RFC3339)")
	cmd.Flags().IntVar(&spots, "spots", 1, "number of casuals needed")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("starts-at")
	_ = cmd.MarkFlagRequired("ends-at")
	return cmd
}

func shiftListCmd() *cobra.Command {
	var poolID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shifts in a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				shifts, err := e.ListShifts(ctx, poolID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(shifts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Starts", "Ends", "Spots", "Status"})
				for _, s := range shifts {
					tw.AppendRow(table.Row{
						s.ID,
						s.Description,
						s.StartsAt.Format("2006-01-02 15:04"),
						s.EndsAt.Format("2006-01-02 15:04"),
						fmt.Sprintf("%d/%d", s.SpotsNeeded-s.SpotsRemaining, s.SpotsNeeded),
						s.Status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&poolID, "pool", "", "pool id")
	_ = cmd.MarkFlagRequired("pool")
	return cmd
}

func shiftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <shift-id>",
		Short: "Show a shift and its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetShift(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printShift(s)
				return nil
			})
		},
	}
}

type claimOp func(engine.Engine, context.Context, string, string) (engine.ClaimResult, error)

func shiftClaimCmd(use, short string, op claimOp) *cobra.Command {
	var casualID string
	cmd := &cobra.Command{
		Use:   use + " <shift-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := op(e, ctx, args[0], casualID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printShift(res.Shift)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&casualID, "casual", "", "casual id")
	_ = cmd.MarkFlagRequired("casual")
	return cmd
}

func shiftCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <shift-id>",
		Short: "Cancel a shift and withdraw its pending notices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CancelShift(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printShift(s)
				return nil
			})
		},
	}
}

func printShift(s *domain.Shift) {
	fmt.Printf("%s  %s\n", s.ID, s.Description)
	fmt.Printf("  %s -> %s\n", s.StartsAt.Format(time.RFC3339), s.EndsAt.Format(time.RFC3339))
	fmt.Printf("  status %s, %d of %d spots remaining (version %d)\n", s.Status, s.SpotsRemaining, s.SpotsNeeded, s.Version)
	if len(s.Claims) > 0 {
		printClaims(s.Claims)
	}
}
