package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hookd/internal/client"
	"github.com/alfredjeanlab/hookd/internal/model"
)

var kpiCmd = &cobra.Command{
	Use:     "kpi",
	Short:   "Delivery analytics",
	GroupID: "analytics",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := kpiRequest(cmd)
		if err != nil {
			return err
		}
		sum, err := adminClient.Summary(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("getting summary: %w", err)
		}
		if jsonOutput {
			return printJSON(sum)
		}
		printSummary(cmd.OutOrStdout(), sum)
		return nil
	},
}

var kpiLatencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Attempt latency histogram",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := kpiRequest(cmd)
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("days")
		h, err := adminClient.LatencyHistogram(cmd.Context(), req, days)
		if err != nil {
			return fmt.Errorf("getting latency histogram: %w", err)
		}
		if jsonOutput {
			return printJSON(h)
		}
		printHistogram(cmd.OutOrStdout(), h)
		return nil
	},
}

var kpiVolumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Completed deliveries per hour or day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := kpiRequest(cmd)
		if err != nil {
			return err
		}
		bucket, _ := cmd.Flags().GetString("bucket")
		points, err := adminClient.VolumeOverTime(cmd.Context(), req, model.VolumeBucketSize(bucket))
		if err != nil {
			return fmt.Errorf("getting volume: %w", err)
		}
		if jsonOutput {
			return printJSON(points)
		}
		printVolume(cmd.OutOrStdout(), points)
		return nil
	},
}

// kpiRequest reads the shared scope flags. --since is relative to now and
// is overridden by an explicit --from.
func kpiRequest(cmd *cobra.Command) (*client.KPIRequest, error) {
	req := &client.KPIRequest{}
	req.AppID, _ = cmd.Flags().GetString("app")
	req.WebhookID, _ = cmd.Flags().GetString("webhook")

	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		req.From = time.Now().Add(-since)
	}
	for name, dst := range map[string]*time.Time{"from": &req.From, "to": &req.To} {
		v, _ := cmd.Flags().GetString(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("--%s must be an RFC 3339 timestamp: %w", name, err)
		}
		*dst = t
	}
	return req, nil
}

func init() {
	kpiCmd.PersistentFlags().String("app", "", "scope to one application")
	kpiCmd.PersistentFlags().String("webhook", "", "scope to one subscription")
	kpiCmd.PersistentFlags().String("from", "", "window start (RFC 3339)")
	kpiCmd.PersistentFlags().String("to", "", "window end (RFC 3339)")
	kpiCmd.PersistentFlags().Duration("since", 0, "window start relative to now, e.g. 6h")

	kpiLatencyCmd.Flags().Int("days", 7, "lookback: 7, 30 or 90")
	kpiVolumeCmd.Flags().String("bucket", string(model.VolumeHour), "bucket size: hour or day")

	kpiCmd.AddCommand(kpiLatencyCmd, kpiVolumeCmd)
}
