package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftdrop/internal/app"
	"shiftdrop/internal/config"
	"shiftdrop/internal/engine"
	"shiftdrop/internal/migrate"
	"shiftdrop/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sd",
	Short: "Shiftdrop CLI",
	Long: `Shiftdrop posts casual shifts to a pool of workers and lets them claim spots.
- Pool: a group of casuals managed by pool admins.
- Shift: a time window needing some number of spots; Open until every spot is taken (Filled) or it is Cancelled.
- Claim: a casual holding one spot. Releasing it frees the spot and reopens a Filled shift.
- Outbox: every notification is written in the same transaction as the change that caused it and
  delivered later by the worker ('sd worker' or 'sd serve'), with retries on a backoff schedule.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.LoadEnv(viper.GetString("workspace"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHIFTDROP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.StringP("config", "c", "", "config file (default <workspace>/shiftdrop.yml)")
	flags.String("db-driver", "", "database driver: sqlite, postgres, mysql")
	flags.String("db-dsn", "", "database DSN for postgres or mysql")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"workspace", "config", "db-driver", "db-dsn", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(poolCmd())
	rootCmd.AddCommand(casualCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(shiftCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(configCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				v, err := migrate.Version(ctx, rt.DB)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"driver": string(rt.DB.Dialect), "schema_version": v})
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the outbox worker and janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if cmd.Flags().Changed("addr") {
					rt.Config.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					rt.Config.Server.BasePath = basePath
				}
				handler, err := server.New(server.Config{
					Engine:      rt.Engine,
					BasePath:    rt.Config.Server.BasePath,
					CORSOrigins: rt.Config.Server.CORSOrigins,
					Logger:      rt.Logger,
				})
				if err != nil {
					return err
				}
				var stopBackground func()
				if !noWorker {
					stopBackground, err = startBackground(ctx, rt)
					if err != nil {
						return err
					}
				}
				srv := &http.Server{Addr: rt.Config.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Logger.InfoContext(ctx, "serving api",
					"module", "cmd",
					"addr", rt.Config.Server.Addr,
					"base_path", rt.Config.Server.BasePath,
				)
				fmt.Printf("Serving Shiftdrop API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
					rt.Config.Server.Addr, rt.Config.Server.BasePath, rt.Config.Server.BasePath)
				serveErr := srv.ListenAndServe()
				if stopBackground != nil {
					stopBackground()
				}
				if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					return serveErr
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API only")
	return cmd
}

func workerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver outbox messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if once {
					w, err := rt.Worker(ctx)
					if err != nil {
						return err
					}
					res, err := w.ProcessOnce(ctx)
					if err != nil {
						return err
					}
					return printJSONOrTable(res)
				}
				stop, err := startBackground(ctx, rt)
				if err != nil {
					return err
				}
				<-ctx.Done()
				stop()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process one batch and exit")
	return cmd
}

// startBackground runs the outbox worker and janitor until ctx ends. The
// returned func blocks until both have stopped.
func startBackground(ctx context.Context, rt *app.Runtime) (func(), error) {
	w, err := rt.Worker(ctx)
	if err != nil {
		return nil, err
	}
	j, err := rt.Janitor()
	if err != nil {
		return nil, err
	}
	workerCtx, cancel := context.WithCancel(ctx)
	done := w.Start(workerCtx)
	j.Start()
	return func() {
		cancel()
		if err := <-done; err != nil {
			rt.Logger.Error("outbox worker stopped", "module", "cmd", "error", err.Error())
		}
		<-j.Stop().Done()
	}, nil
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Database.Workspace == "" || cfg.Database.Workspace == "." {
		cfg.Database.Workspace = workspace
	}
	if driver := viper.GetString("db-driver"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dsn := viper.GetString("db-dsn"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
