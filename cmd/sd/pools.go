package main

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftdrop/internal/domain"
	"shiftdrop/internal/engine"
)

func poolCmd() *cobra.Command {
	pool := &cobra.Command{Use: "pool", Short: "Manage pools"}
	pool.AddCommand(poolCreateCmd())
	pool.AddCommand(poolListCmd())
	return pool
}

func poolCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePool(ctx, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "pool name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func poolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pools, err := e.ListPools(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pools)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, p := range pools {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CreatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func casualCmd() *cobra.Command {
	casual := &cobra.Command{Use: "casual", Short: "Manage casuals"}
	casual.AddCommand(casualAddCmd())
	casual.AddCommand(casualListCmd())
	casual.AddCommand(casualClaimsCmd())
	return casual
}

func casualAddCmd() *cobra.Command {
	var poolID, name, phone string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a casual to a pool and send an invite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddCasual(ctx, poolID, name, phone)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	participantFlags(cmd, &poolID, &name, &phone)
	return cmd
}

func casualListCmd() *cobra.Command {
	var poolID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List casuals in a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListCasuals(ctx, poolID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Phone"})
				for _, c := range list {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Phone})
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

func casualClaimsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claims <casual-id>",
		Short: "Show a casual's active claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				claims, err := e.CasualClaims(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claims)
				}
				printClaims(claims)
				return nil
			})
		},
	}
}

func adminCmd() *cobra.Command {
	admin := &cobra.Command{Use: "admin", Short: "Manage pool admins"}
	var poolID, name, phone string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a pool admin and send an invite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AddAdmin(ctx, poolID, name, phone)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	participantFlags(add, &poolID, &name, &phone)
	admin.AddCommand(add)
	return admin
}

func participantFlags(cmd *cobra.Command, poolID, name, phone *string) {
	cmd.Flags().StringVar(poolID, "pool", "", "pool id")
	cmd.Flags().StringVar(name, "name", "", "display name")
	cmd.Flags().StringVar(phone, "phone", "", "phone number notifications go to")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
}

func printClaims(claims []*domain.Claim) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Claim", "Shift", "Casual", "Status", "Claimed", "Released"})
	for _, c := range claims {
		released := ""
		if c.ReleasedAt != nil {
			released = c.ReleasedAt.Format("2006-01-02 15:04")
		}
		tw.AppendRow(table.Row{c.ID, c.ShiftID, c.CasualID, c.Status, c.ClaimedAt.Format("2006-01-02 15:04"), released})
	}
	tw.Render()
}
