package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/signalsfoundry/rb-admission/internal/report"
	"github.com/signalsfoundry/rb-admission/model"
)

var (
	styleBanner  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleBox     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderSummary formats run results the way the original test harness
// printed them: a success count, then one line per run.
func renderSummary(results []model.RunResult, sum report.Summary, util []report.Utilization) string {
	var b strings.Builder
	b.WriteString(styleBanner.Render(fmt.Sprintf("Test Results: %d/%d successful", sum.Admitted, sum.Runs)))
	b.WriteString("\n")

	for i, r := range results {
		var line string
		switch {
		case !r.Success:
			line = styleError.Render(fmt.Sprintf("%d. %s denied", i+1, r.StationID)) +
				styleDim.Render(" "+firstLine(r.Error))
		case r.Ending == model.EndingExpired:
			line = styleWarn.Render(fmt.Sprintf("%d. %s -> %s: %.1f Mbps, %d RBs (CQI %d), expired",
				i+1, r.StationID, r.AccessPointID, r.BandwidthMbps, r.RequiredUnits, r.QualityClass))
		default:
			line = styleSuccess.Render(fmt.Sprintf("%d. %s -> %s: %.1f Mbps, %d RBs (CQI %d)",
				i+1, r.StationID, r.AccessPointID, r.BandwidthMbps, r.RequiredUnits, r.QualityClass))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	stats := []string{
		fmt.Sprintf("admission rate  %.0f%%", sum.AdmissionRate*100),
		fmt.Sprintf("units           mean %.1f  sd %.1f  median %.0f  max %d", sum.MeanUnits, sum.StdDevUnits, sum.MedianUnits, sum.MaxUnits),
		fmt.Sprintf("attempts/run    %.2f", sum.MeanAttempts),
	}
	aps := make([]string, 0, len(sum.PerAccessPoint))
	for ap := range sum.PerAccessPoint {
		aps = append(aps, ap)
	}
	sort.Strings(aps)
	for _, ap := range aps {
		stats = append(stats, fmt.Sprintf("%-15s %d admitted", ap, sum.PerAccessPoint[ap]))
	}
	for _, u := range util {
		if u.Peak == 0 {
			continue
		}
		stats = append(stats, fmt.Sprintf("%-15s peak %.0f%%  mean %.0f%% utilization", u.AccessPointID, u.Peak*100, u.Mean*100))
	}
	b.WriteString(styleBox.Render(strings.Join(stats, "\n")))
	b.WriteString("\n")
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
