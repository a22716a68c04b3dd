package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	uiDivider = "──────────────────────────────────────────────────────"
	barWidth  = 20
)

func renderPage(title, data, hotKeys string) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString("  ")
	b.WriteString(uiDivider)
	b.WriteString("\n\n")

	if strings.TrimSpace(data) != "" {
		lines := strings.Split(data, "\n")
		for _, line := range lines {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	} else {
		b.WriteString("  -\n")
	}

	b.WriteString("\n")
	b.WriteString("  ")
	b.WriteString(uiDivider)
	b.WriteString("\n")

	if strings.TrimSpace(hotKeys) != "" {
		b.WriteString("  ")
		b.WriteString(helpStyle.Render(hotKeys))
	}

	return b.String()
}

func timeOrDash(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.TimeOnly)
}

func fitText(v string, max int) string {
	if max <= 0 || len(v) <= max {
		return v
	}
	if max <= 3 {
		return v[:max]
	}
	return v[:max-3] + "..."
}

// progressBar draws p as a fixed-width bar followed by the percentage.
func progressBar(p models.SyncProgress) string {
	pct := p.Percent()
	filled := min(int(pct/100*barWidth), barWidth)
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled), pct)
}

func networkLine(st models.SyncState) string {
	if !st.IsOnline {
		return offlineStyle.Render("offline")
	}

	label := fmt.Sprintf("online, %s (score %.0f)", st.NetworkStatus, st.QualityScore)
	if st.NetworkStatus == models.NetworkPoor {
		return poorStyle.Render(label)
	}
	return onlineStyle.Render(label)
}

func humanBytes(n float64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%.0f B", n)
	}
	div, exp := float64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", n/div, "KMGTPE"[exp])
}
