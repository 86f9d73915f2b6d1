package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hookd/internal/client"
	"github.com/alfredjeanlab/hookd/internal/model"
)

var deliveriesCmd = &cobra.Command{
	Use:     "deliveries [id]",
	Short:   "List deliveries, or show one",
	GroupID: "deliveries",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			d, err := adminClient.GetDelivery(ctx, id)
			if err != nil {
				return fmt.Errorf("getting delivery: %w", err)
			}
			if jsonOutput {
				return printJSON(d)
			}
			printDelivery(cmd.OutOrStdout(), d)
			return nil
		}

		statuses, _ := cmd.Flags().GetStringSlice("status")
		req := &client.ListDeliveriesRequest{}
		req.SubscriptionID, _ = cmd.Flags().GetString("subscription")
		req.Cursor, _ = cmd.Flags().GetInt64("cursor")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		for _, s := range statuses {
			req.Status = append(req.Status, model.DeliveryStatus(s))
		}

		page, err := adminClient.ListDeliveries(ctx, req)
		if err != nil {
			return fmt.Errorf("listing deliveries: %w", err)
		}
		if jsonOutput {
			return printJSON(page)
		}
		printDeliveryRows(cmd.OutOrStdout(), page.Items, page.NextCursor)
		return nil
	},
}

var attemptsCmd = &cobra.Command{
	Use:     "attempts",
	Short:   "List delivery attempts, newest first",
	GroupID: "deliveries",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ListAttemptsRequest{}
		req.SubscriptionID, _ = cmd.Flags().GetString("subscription")
		req.DeliveryID, _ = cmd.Flags().GetInt64("delivery")
		req.Cursor, _ = cmd.Flags().GetInt64("cursor")
		req.Limit, _ = cmd.Flags().GetInt("limit")

		page, err := adminClient.ListAttempts(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("listing attempts: %w", err)
		}
		if jsonOutput {
			return printJSON(page)
		}
		printAttemptRows(cmd.OutOrStdout(), page.Items, page.NextCursor)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry <id>...",
	Short:   "Reschedule failed deliveries for immediate retry",
	GroupID: "deliveries",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var retried []*model.Delivery
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			d, err := adminClient.RetryDelivery(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("retrying delivery %d: %w", id, err)
			}
			retried = append(retried, d)
		}
		if jsonOutput {
			return printJSON(retried)
		}
		for _, d := range retried {
			fmt.Fprintf(cmd.OutOrStdout(), "Delivery %d rescheduled (%d attempts so far)\n", d.ID, d.AttemptsCount)
		}
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid delivery id %q", s)
	}
	return id, nil
}

func init() {
	deliveriesCmd.Flags().String("subscription", "", "filter by subscription id")
	deliveriesCmd.Flags().StringSlice("status", nil, "filter by status (pending, processing, success, failed)")
	deliveriesCmd.Flags().Int64("cursor", 0, "continue after this delivery id")
	deliveriesCmd.Flags().Int("limit", 0, "page size (server default when 0)")

	attemptsCmd.Flags().String("subscription", "", "filter by subscription id")
	attemptsCmd.Flags().Int64("delivery", 0, "filter by delivery id")
	attemptsCmd.Flags().Int64("cursor", 0, "continue after this attempt id")
	attemptsCmd.Flags().Int("limit", 0, "page size (server default when 0)")
}
