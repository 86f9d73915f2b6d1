package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hookd/internal/client"
	"github.com/alfredjeanlab/hookd/internal/model"
)

var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "Manage webhook subscriptions",
	GroupID: "subscriptions",
}

var subsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ListSubscriptionsRequest{}
		req.AppID, _ = cmd.Flags().GetString("app")
		eventType, _ := cmd.Flags().GetString("event")
		req.EventType = model.EventType(eventType)
		if cmd.Flags().Changed("paused") {
			paused, _ := cmd.Flags().GetBool("paused")
			req.Paused = &paused
		}

		subs, err := adminClient.ListSubscriptions(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("listing subscriptions: %w", err)
		}
		if jsonOutput {
			return printJSON(subs)
		}
		printSubscriptions(cmd.OutOrStdout(), subs)
		return nil
	},
}

var subsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, err := adminClient.GetSubscription(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting subscription: %w", err)
		}
		return outputSubscription(cmd, sub)
	},
}

var subsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a webhook subscription",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sub := &model.WebhookSubscription{}
		sub.ID, _ = cmd.Flags().GetString("id")
		sub.AppID, _ = cmd.Flags().GetString("app")
		sub.Name, _ = cmd.Flags().GetString("name")
		sub.URL, _ = cmd.Flags().GetString("url")
		sub.Paused, _ = cmd.Flags().GetBool("paused")
		sub.EventFilter = eventFilterFlag(cmd)
		auth, err := authFromFlags(cmd)
		if err != nil {
			return err
		}
		sub.Auth = auth

		created, err := adminClient.CreateSubscription(cmd.Context(), sub)
		if err != nil {
			return fmt.Errorf("creating subscription: %w", err)
		}
		return outputSubscription(cmd, created)
	},
}

var subsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a subscription's name, URL, events or credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cur, err := adminClient.GetSubscription(ctx, args[0])
		if err != nil {
			return fmt.Errorf("getting subscription: %w", err)
		}

		if cmd.Flags().Changed("app") {
			cur.AppID, _ = cmd.Flags().GetString("app")
		}
		if cmd.Flags().Changed("name") {
			cur.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("url") {
			cur.URL, _ = cmd.Flags().GetString("url")
		}
		if cmd.Flags().Changed("event") {
			cur.EventFilter = eventFilterFlag(cmd)
		}
		// The fetched auth is redacted; send it only when replaced.
		cur.Auth = nil
		if cmd.Flags().Changed("auth") {
			if cur.Auth, err = authFromFlags(cmd); err != nil {
				return err
			}
		}

		updated, err := adminClient.UpdateSubscription(ctx, cur.ID, cur)
		if err != nil {
			return fmt.Errorf("updating subscription: %w", err)
		}
		return outputSubscription(cmd, updated)
	},
}

var subsPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Stop dispatching to a subscription; deliveries wait",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, err := adminClient.PauseSubscription(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("pausing subscription: %w", err)
		}
		return outputSubscription(cmd, sub)
	},
}

var subsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume dispatching to a paused subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, err := adminClient.ResumeSubscription(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("resuming subscription: %w", err)
		}
		return outputSubscription(cmd, sub)
	},
}

var subsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a subscription and its delivery history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := adminClient.DeleteSubscription(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("deleting subscription: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func outputSubscription(cmd *cobra.Command, sub *model.WebhookSubscription) error {
	if jsonOutput {
		return printJSON(sub)
	}
	printSubscription(cmd.OutOrStdout(), sub)
	return nil
}

func eventFilterFlag(cmd *cobra.Command) []model.EventType {
	names, _ := cmd.Flags().GetStringSlice("event")
	out := make([]model.EventType, len(names))
	for i, n := range names {
		out[i] = model.EventType(n)
	}
	return out
}

// authFromFlags builds the auth variant named by --auth.
func authFromFlags(cmd *cobra.Command) (model.Auth, error) {
	kind, _ := cmd.Flags().GetString("auth")
	header, _ := cmd.Flags().GetString("auth-header")
	switch model.AuthType(kind) {
	case model.AuthNone, "":
		return model.NoAuth{}, nil
	case model.AuthHeader:
		value, _ := cmd.Flags().GetString("auth-value")
		return model.HeaderAuth{HeaderName: header, HeaderValue: value}, nil
	case model.AuthBasic:
		user, _ := cmd.Flags().GetString("auth-user")
		pass, _ := cmd.Flags().GetString("auth-password")
		return model.BasicAuth{HeaderName: header, Username: user, Password: pass}, nil
	default:
		return nil, fmt.Errorf("unknown --auth %q (want %s, %s or %s)", kind, model.AuthNone, model.AuthHeader, model.AuthBasic)
	}
}

func addSubscriptionFlags(cmd *cobra.Command) {
	cmd.Flags().String("app", "", "owning application id")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("url", "", "absolute http(s) endpoint")
	cmd.Flags().StringSlice("event", nil, "event types to deliver (repeatable)")
	cmd.Flags().String("auth", "", "auth variant: no-auth, header or http-basic-auth")
	cmd.Flags().String("auth-header", "", "header carrying the credential (default Authorization)")
	cmd.Flags().String("auth-value", "", "header value for header auth")
	cmd.Flags().String("auth-user", "", "username for basic auth")
	cmd.Flags().String("auth-password", "", "password for basic auth")
}

func init() {
	subsListCmd.Flags().String("app", "", "filter by application id")
	subsListCmd.Flags().String("event", "", "only subscriptions that receive this event type")
	subsListCmd.Flags().Bool("paused", false, "filter by paused state")

	addSubscriptionFlags(subsCreateCmd)
	subsCreateCmd.Flags().String("id", "", "subscription id (generated when empty)")
	subsCreateCmd.Flags().Bool("paused", false, "create in the paused state")
	addSubscriptionFlags(subsUpdateCmd)

	subscriptionsCmd.AddCommand(subsListCmd, subsShowCmd, subsCreateCmd, subsUpdateCmd,
		subsPauseCmd, subsResumeCmd, subsDeleteCmd)
}
