package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func printDeliveryRows(out io.Writer, rows []*model.DeliveryRow, next int64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBSCRIPTION\tEVENT\tSTATUS\tATTEMPTS\tNEXT ATTEMPT\tCREATED")
	for _, d := range rows {
		nextAt := formatTime(d.NextAttemptAt)
		if d.Status.IsTerminal() {
			nextAt = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.ID,
			d.SubscriptionID,
			d.EventType,
			ui.RenderDeliveryStatus(d.Status),
			d.AttemptsCount,
			nextAt,
			formatTime(d.CreatedAt),
		)
	}
	w.Flush()
	printPageFooter(out, len(rows), "deliveries", next)
}

func printPageFooter(out io.Writer, n int, noun string, next int64) {
	if next != 0 {
		fmt.Fprintf(out, "\n%d %s %s\n", n, noun, ui.RenderMuted(fmt.Sprintf("(more: --cursor %d)", next)))
		return
	}
	fmt.Fprintf(out, "\n%d %s\n", n, noun)
}

func printDelivery(out io.Writer, d *model.Delivery) {
	fmt.Fprintf(out, "ID:            %d\n", d.ID)
	fmt.Fprintf(out, "Event:         %d\n", d.EventID)
	fmt.Fprintf(out, "Subscription:  %s\n", d.SubscriptionID)
	fmt.Fprintf(out, "Status:        %s\n", ui.RenderDeliveryStatus(d.Status))
	fmt.Fprintf(out, "Attempts:      %d\n", d.AttemptsCount)
	if !d.Status.IsTerminal() {
		fmt.Fprintf(out, "Next Attempt:  %s\n", formatTime(d.NextAttemptAt))
	}
	if d.ClaimedAt != nil {
		fmt.Fprintf(out, "Claimed At:    %s\n", formatTimePtr(d.ClaimedAt))
	}
	fmt.Fprintf(out, "Created At:    %s\n", formatTime(d.CreatedAt))
	if d.CompletedAt != nil {
		fmt.Fprintf(out, "Completed At:  %s\n", formatTimePtr(d.CompletedAt))
	}
}

func printAttemptRows(out io.Writer, rows []*model.AttemptRow, next int64) {
	width := ui.TerminalWidth(120)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDELIVERY\t#\tSTATUS\tMS\tATTEMPTED\tERROR")
	for _, a := range rows {
		errText := ""
		if a.Error != nil {
			errText = ui.Truncate(*a.Error, max(width-80, 20))
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%d\t%s\t%s\n",
			a.ID,
			a.DeliveryID,
			a.AttemptNumber,
			ui.RenderResponseStatus(a.ResponseStatus),
			a.ResponseMs,
			formatTime(a.AttemptedAt),
			errText,
		)
	}
	w.Flush()
	printPageFooter(out, len(rows), "attempts", next)
}

func printSubscriptions(out io.Writer, subs []*model.WebhookSubscription) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAPP\tNAME\tURL\tAUTH\tEVENTS\tSTATE")
	for _, s := range subs {
		state := "active"
		if s.Paused {
			state = ui.RenderMuted("paused")
		}
		auth := model.AuthNone
		if s.Auth != nil {
			auth = s.Auth.Type()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			s.AppID,
			ui.Truncate(s.Name, 30),
			ui.Truncate(s.URL, 50),
			auth,
			len(s.EventFilter),
			state,
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d subscriptions\n", len(subs))
}

func printSubscription(out io.Writer, s *model.WebhookSubscription) {
	fmt.Fprintf(out, "ID:       %s\n", s.ID)
	fmt.Fprintf(out, "App:      %s\n", s.AppID)
	fmt.Fprintf(out, "Name:     %s\n", s.Name)
	fmt.Fprintf(out, "URL:      %s\n", s.URL)
	if s.Auth != nil {
		fmt.Fprintf(out, "Auth:     %s\n", s.Auth.Type())
	}
	events := make([]string, len(s.EventFilter))
	for i, t := range s.EventFilter {
		events[i] = string(t)
	}
	fmt.Fprintf(out, "Events:   %s\n", strings.Join(events, ", "))
	if s.Paused {
		fmt.Fprintf(out, "Paused:   %s\n", formatTimePtr(s.PausedAt))
	}
	fmt.Fprintf(out, "Created:  %s\n", formatTime(s.CreatedAt))
	fmt.Fprintf(out, "Updated:  %s\n", formatTime(s.UpdatedAt))
}

func formatRate(r model.Rate) string {
	if r.Total == 0 {
		return ui.RenderMuted("n/a")
	}
	return fmt.Sprintf("%s  (%d/%d)", ui.RenderPercent(r.Value), r.Matched, r.Total)
}

func printSummary(out io.Writer, s *model.Summary) {
	fmt.Fprintf(out, "Window:                 %s .. %s\n", formatTime(s.WindowFrom), formatTime(s.WindowTo))
	fmt.Fprintf(out, "Deliveries:             %d\n", s.Deliveries)
	fmt.Fprintf(out, "Backlog:                %d", s.Backlog.Count)
	if s.Backlog.Count > 0 {
		age := time.Duration(s.Backlog.OldestAgeSeconds * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(out, "  (oldest %s, next %s)", age, formatTimePtr(s.Backlog.NextAttemptAt))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "First-attempt success:  %s\n", formatRate(s.FirstAttemptSuccess))
	fmt.Fprintf(out, "Eventual success:       %s\n", formatRate(s.EventualSuccess))
	fmt.Fprintf(out, "Delivered within 60s:   %s\n", formatRate(s.DeliveredWithin60s))
}

func printHistogram(out io.Writer, h *model.LatencyHistogram) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "LATENCY (last %d days)\tCOUNT\t\n", h.Days)
	for _, b := range h.Buckets {
		label := fmt.Sprintf("%d-%dms", b.LowerMs, b.UpperMs)
		if b.UpperMs < 0 {
			label = fmt.Sprintf(">=%dms", b.LowerMs)
		}
		bar := ""
		if h.Total > 0 {
			bar = strings.Repeat("#", int(b.Count*40/h.Total))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", label, b.Count, ui.RenderAccent(bar))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d attempts\n", h.Total)
}

func printVolume(out io.Writer, points []model.VolumePoint) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tSUCCESS\tFAILED")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%d\t%d\n", formatTime(p.BucketStart), p.Success, p.Failed)
	}
	w.Flush()
}
