// Package ui renders terminal output for the hookd CLI.
package ui

import (
	"fmt"
	"strconv"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorSuccess = 114 // green
	colorWarn    = 179 // amber
	colorFailed  = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderDeliveryStatus colors a delivery status by its lifecycle stage.
func RenderDeliveryStatus(st model.DeliveryStatus) string {
	switch st {
	case model.DeliverySuccess:
		return paint(colorSuccess, string(st))
	case model.DeliveryFailed:
		return paint(colorFailed, string(st))
	case model.DeliveryProcessing:
		return paint(colorAccent, string(st))
	default:
		return paint(colorWarn, string(st))
	}
}

// RenderResponseStatus formats an attempt's response status. The timeout
// and network error sentinels render as words.
func RenderResponseStatus(code int) string {
	switch {
	case code == model.StatusTimeout:
		return paint(colorFailed, "timeout")
	case code == model.StatusNetworkError:
		return paint(colorFailed, "network")
	case model.IsSuccessStatus(code):
		return paint(colorSuccess, strconv.Itoa(code))
	default:
		return paint(colorFailed, strconv.Itoa(code))
	}
}

// RenderPercent formats a 0..1 ratio as a percentage.
func RenderPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
