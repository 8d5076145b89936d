package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/blackbee/ai-forensics/internal/filehandler"
	"github.com/blackbee/ai-forensics/internal/report"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e5e7eb"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	promptStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4b5563")).
			Padding(0, 1)
)

func toneStyle(p report.Palette) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(p.Stroke)).Bold(true)
}

// renderReport is the styled terminal form of report.Text.
func renderReport(rep *report.Report, file report.FileInfo, info filehandler.ImageInfo) string {
	if rep == nil {
		return ""
	}
	tone := toneStyle(rep.Palette)

	var b strings.Builder
	b.WriteString(headingStyle.Render(report.HeadingReport) + "\n\n")

	meta := []string{file.Name, report.LabelFormat + " " + file.Kind, report.LabelSize + " " + file.Size}
	if info.HasDimensions() {
		meta = append(meta, fmt.Sprintf("%d × %d", info.Width, info.Height))
	}
	if cam := info.Camera(); cam != "" {
		meta = append(meta, cam)
	}
	b.WriteString(dimStyle.Render(report.HeadingFileInfo+": "+strings.Join(meta, "  ")) + "\n\n")

	b.WriteString(tone.Render(rep.VerdictTitle) + "\n")
	b.WriteString(tone.Render(rep.ScoreLabel) + " " + dimStyle.Render(report.HeadingConfidence) + "\n\n")

	b.WriteString(headingStyle.Render(report.HeadingSummary) + "\n")
	b.WriteString(rep.Reasoning + "\n")

	if rep.HasFlaws() {
		b.WriteString("\n" + headingStyle.Render(report.HeadingFlaws) + "\n")
		for _, flaw := range rep.Flaws {
			b.WriteString(tone.Render("•") + " " + flaw + "\n")
		}
	}
	if rep.HasRemediation() {
		b.WriteString("\n" + headingStyle.Render(report.HeadingRemediation) + "\n")
		b.WriteString(promptStyle.Render(rep.RemediationPrompt) + "\n")
	}
	return b.String()
}
