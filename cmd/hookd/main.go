package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hookd/internal/client"
	"github.com/alfredjeanlab/hookd/internal/config"
	"github.com/alfredjeanlab/hookd/internal/ui"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool
	noColor    bool

	adminClient client.AdminClient
)

var rootCmd = &cobra.Command{
	Use:           "hookd <command>",
	Short:         "Webhook delivery service and admin CLI",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		adminClient = client.NewHTTPClient(serverURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if adminClient != nil {
			adminClient.Close()
		}
	},
}

// localCmd marks cmd as running in-process rather than against a server.
func localCmd(cmd *cobra.Command) *cobra.Command {
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	return cmd
}

func init() {
	defaultServer, defaultToken := config.LoadClient()
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "admin API base URL (HOOKD_SERVER)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken, "bearer token (HOOKD_AUTH_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "deliveries", Title: "Deliveries:"},
		&cobra.Group{ID: "subscriptions", Title: "Subscriptions:"},
		&cobra.Group{ID: "analytics", Title: "Analytics:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Deliveries
	rootCmd.AddCommand(deliveriesCmd)
	rootCmd.AddCommand(attemptsCmd)
	rootCmd.AddCommand(retryCmd)

	// Subscriptions
	rootCmd.AddCommand(subscriptionsCmd)

	// Analytics
	rootCmd.AddCommand(kpiCmd)

	// System
	rootCmd.AddCommand(localCmd(serveCmd))
	rootCmd.AddCommand(localCmd(migrateCmd))
	rootCmd.AddCommand(localCmd(enqueueCmd))
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
