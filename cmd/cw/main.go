package main

import (
	"context"
	"database/sql"
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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crewline/internal/broadcast"
	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/repo"
	"crewline/internal/scenario"
	"crewline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cw",
	Short: "Crewline CLI",
	Long: `Crewline simulates a team of autonomous worker agents.
Agents pick up tasks, make progress each tick, ask each other for help, and
escalate to a human when a negotiation goes nowhere. State persists to SQLite
in the .crewline workspace; snapshots broadcast over NATS when configured.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CREWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func runCmd() *cobra.Command {
	var addr, natsURL string
	var ticks int
	var resume bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation",
		Long: `Starts the tick loop and, unless --ticks is given, the control API.
With --ticks N the simulation advances N ticks synchronously and exits;
useful for scripted experiments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := openStore(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			store := repo.Repo{DB: conn}

			var pub broadcast.Publisher
			if natsURL != "" {
				nc, err := broadcast.ConnectNATS(natsURL, "crewline")
				if err != nil {
					return err
				}
				defer nc.Close()
				pub = nc
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			gen := scenario.NewFeed(cfg, cfg.Simulation.Seed)
			e := engine.New(cfg, store, pub, gen, logger)

			if resume {
				if err := e.Restore(cmd.Context()); err != nil {
					return err
				}
			}

			if ticks > 0 {
				e.Advance(ticks)
				if err := e.Flush(cmd.Context()); err != nil {
					return err
				}
				return printJSONOrTable(e.GetStatus())
			}

			e.Start()
			handler, err := server.New(server.Config{Engine: e})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			fmt.Printf("Serving Crewline API on http://%s/v0 (OpenAPI at /v0/openapi.json)\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "control API listen address")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL for snapshot broadcasting")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "run N ticks synchronously and exit")
	cmd.Flags().BoolVar(&resume, "resume", false, "restore agent and task state from the workspace db")
	return cmd
}

func rosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Show the configured agent roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg.Roster)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Name", "Role", "Capabilities"})
			for _, a := range cfg.Roster {
				caps, _ := json.Marshal(a.Capabilities)
				t.AppendRow(table.Row{a.ID, a.Name, a.Role, string(caps)})
			}
			t.Render()
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted simulation stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				stats, err := r.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: task lifecycle, collaborations, escalations.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var eventType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, eventType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Tick", "Type", "Payload"})
				for _, ev := range events {
					t.AppendRow(table.Row{ev.ID, ev.Tick, ev.Type, ev.Payload})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var projectID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default crewline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "demo", "project id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate crewline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	return cmd
}

func openStore(workspace string) (*sql.DB, error) {
	conn, err := db.Open(workspace)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openStore(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
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
