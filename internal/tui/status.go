package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/waabox/devicelink/internal/domain"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	codeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7F5283")).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	noticeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("111"))
)

func statusIcon(s domain.AuthStatus) string {
	switch s {
	case domain.StatusConnected:
		return okStyle.Render("✓")
	case domain.StatusInvalid:
		return errStyle.Render("✗")
	case domain.StatusConnecting:
		return "●"
	case domain.StatusDisconnected:
		return "○"
	default:
		return "?"
	}
}

func statusLabel(s domain.AuthStatus) string {
	switch s {
	case domain.StatusConnected:
		return "Connected"
	case domain.StatusInvalid:
		return "Token rejected"
	case domain.StatusConnecting:
		return "Connecting"
	case domain.StatusDisconnected:
		return "Not connected"
	default:
		return "Checking"
	}
}

// formatRemaining renders how long a device code stays valid.
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds left", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm left", int(d.Minutes()))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
