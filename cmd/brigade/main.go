package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"brigade/internal/app"
	"brigade/internal/config"
	"brigade/internal/db"
	"brigade/internal/logging"
	"brigade/internal/outbox"
	"brigade/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "brigade",
	Short: "Brigade CLI",
	Long: `Brigade manages roles and everything attached to them.
- Roles: active or deprecated; archiving moves every task, user link, phase link and log assignment to the placeholder role.
- Placeholder: the reserved role that holds orphaned work. It cannot be archived or edited.
- Outbox: every archive writes an AggregateArchived event in the same transaction; the relay delivers it to handlers afterwards.
- Relay: polls the outbox, runs handlers in batches, and marks events processed (see 'brigade relay').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BRIGADE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for _, key := range []string{"relay.enabled", "relay.poll_interval_ms", "relay.batch_size", "db.driver", "db.dsn", "jwt_secret"} {
		_ = viper.BindEnv(key)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("driver", "", "database driver (sqlite or postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database DSN")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("db.driver", rootCmd.PersistentFlags().Lookup("driver"))
	_ = viper.BindPFlag("db.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads brigade.yml when present and applies flag and BRIGADE_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("db.driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("db.dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if viper.IsSet("relay.enabled") {
		enabled := viper.GetBool("relay.enabled")
		cfg.Relay.Enabled = &enabled
	}
	if v := viper.GetInt("relay.poll_interval_ms"); v > 0 {
		cfg.Relay.PollIntervalMS = v
	}
	if v := viper.GetInt("relay.batch_size"); v > 0 {
		cfg.Relay.BatchSize = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a, err := app.Open(viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage brigade.yml",
		Long:  "brigade.yml selects the database, tunes the outbox relay and lists webhook targets. Missing files fall back to defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default brigade.yml",
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
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate brigade.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.HTTP.Addr
				}
				if basePath == "" {
					basePath = a.Config.HTTP.BasePath
				}
				secret := viper.GetString("jwt_secret")
				if secret == "" && !legacyActor {
					return fmt.Errorf("BRIGADE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Relay:    a.Relay,
					BasePath: basePath,
					Metrics:  prometheus.Gatherer(a.Metrics),
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: legacyActor,
						Logger:                 a.Logger.Named("auth"),
					},
				})
				if err != nil {
					return err
				}
				if a.Config.Relay.IsEnabled() {
					if err := a.Relay.Start(ctx); err != nil {
						return err
					}
				} else {
					a.Logger.Info("outbox relay disabled")
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving brigade API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Bool("relay", a.Config.Relay.IsEnabled()))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "accept unauthenticated X-Actor-Id")
	return cmd
}

func relayCmd() *cobra.Command {
	rel := &cobra.Command{
		Use:   "relay",
		Short: "Run the outbox relay",
	}
	rel.AddCommand(relayRunCmd())
	rel.AddCommand(relayTickCmd())
	return rel
}

func relayRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the outbox until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Relay.Start(ctx); err != nil {
					return relayErr(err)
				}
				<-ctx.Done()
				a.Relay.Stop()
				return nil
			})
		},
	}
}

func relayTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Process one outbox batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Relay.Tick(ctx)
				if viper.GetBool("json") {
					out := map[string]any{"result": res}
					if err != nil {
						out["error"] = err.Error()
					}
					return printJSON(out)
				}
				if err != nil {
					return relayErr(err)
				}
				fmt.Printf("claimed=%d handled=%d unhandled=%d processed=%d\n", res.Claimed, res.Handled, res.Unhandled, res.Processed)
				return nil
			})
		},
	}
}

// --- helpers ---

func relayErr(err error) error {
	if errors.Is(err, outbox.ErrRelayDisabled) {
		return fmt.Errorf("%w (relay.enabled is false; override with BRIGADE_RELAY_ENABLED=true)", err)
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(header table.Row, rows []table.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
