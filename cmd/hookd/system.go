package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/config"
	"github.com/alfredjeanlab/hookd/internal/enqueuer"
	"github.com/alfredjeanlab/hookd/internal/logging"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store/postgres"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of a running server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := adminClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Apply database migrations",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		down, _ := cmd.Flags().GetBool("down")
		version, dirty, err := postgres.Migrate(cfg.DatabaseURL, down)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d", version)
		if dirty {
			fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:     "enqueue",
	Short:   "Fan out pending events to subscriptions once and exit",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogMode, cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		store, err := postgres.New(cfg.DatabaseURL, postgres.DefaultPoolOptions)
		if err != nil {
			return err
		}
		defer store.Close()

		enq := enqueuer.New(store, nil, enqueuer.Options{BatchSize: cfg.EnqueueBatch}, nil, logger)
		res, err := enq.RunOnce(cmd.Context())
		if err != nil {
			logger.Error("enqueue failed", zap.Error(err))
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fanned out %d events into %d deliveries\n", res.Events, res.Deliveries)
		return nil
	},
}

var emitCmd = &cobra.Command{
	Use:     "emit <event-type> [data-json]",
	Short:   "Append an event through the dev ingress",
	GroupID: "system",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := &model.Event{EventType: model.EventType(args[0]), Data: json.RawMessage(`{}`)}
		if len(args) == 2 {
			data := args[1]
			if data == "-" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				data = string(b)
			}
			e.Data = json.RawMessage(data)
		}
		e.EntityID, _ = cmd.Flags().GetString("entity")
		if e.EntityID == "" {
			e.EntityID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
		}

		resp, err := adminClient.AppendEvent(cmd.Context(), e)
		if err != nil {
			return fmt.Errorf("appending event: %w", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Event %d appended (uid %s)\n", resp.ID, resp.UID)
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("down", false, "revert every migration")
	emitCmd.Flags().String("entity", "", "entity id the event UID is derived from (random when empty)")
}
