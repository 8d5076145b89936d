// Package report maps a forensic verdict to what the UI shows: the
// confidence gauge, the verdict palette, and the AI-only details.
// Everything here is pure and side-effect free.
package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/blackbee/ai-forensics/internal/chat"
)

// Gauge geometry, in SVG user units.
const (
	GaugeRadius     = 56.0
	GaugeStroke     = 8.0
	GaugeNormRadius = GaugeRadius - GaugeStroke/2
	GaugeSize       = GaugeRadius * 2
	GaugeCenter     = GaugeRadius
)

// Palette is the colour set for a verdict.
type Palette struct {
	Tone      string `json:"tone"`      // "warning" or "safe"
	Stroke    string `json:"stroke"`    // gauge arc colour
	TextClass string `json:"textClass"` // score text class
}

var (
	// WarningPalette is used when the image is likely AI-generated.
	WarningPalette = Palette{Tone: "warning", Stroke: "#f87171", TextClass: "text-red-400"}
	// SafePalette is used when the image looks real.
	SafePalette = Palette{Tone: "safe", Stroke: "#4ade80", TextClass: "text-green-400"}
)

// Gauge is a circular progress arc drawn with stroke-dasharray.
type Gauge struct {
	Radius        float64 `json:"radius"`
	Stroke        float64 `json:"stroke"`
	NormRadius    float64 `json:"normalizedRadius"`
	Size          float64 `json:"size"`
	Center        float64 `json:"center"`
	Circumference float64 `json:"circumference"`
	DashOffset    float64 `json:"dashOffset"`
}

// NewGauge computes the arc for a 0-100 score. Out-of-range scores are
// clamped so the arc never over- or under-draws.
func NewGauge(score float64) Gauge {
	score = math.Max(0, math.Min(100, score))
	circumference := 2 * math.Pi * GaugeNormRadius
	return Gauge{
		Radius:        GaugeRadius,
		Stroke:        GaugeStroke,
		NormRadius:    GaugeNormRadius,
		Size:          GaugeSize,
		Center:        GaugeCenter,
		Circumference: circumference,
		DashOffset:    circumference - score/100*circumference,
	}
}

// Report is the display model for one verdict.
type Report struct {
	IsLikelyAI   bool    `json:"isLikelyAI"`
	VerdictTitle string  `json:"verdictTitle"`
	Reasoning    string  `json:"reasoning"`
	Score        float64 `json:"score"`
	ScoreLabel   string  `json:"scoreLabel"`
	Gauge        Gauge   `json:"gauge"`
	Palette      Palette `json:"palette"`

	// Only populated when IsLikelyAI.
	ShowDetails       bool     `json:"showDetails"`
	Flaws             []string `json:"flaws,omitempty"`
	RemediationPrompt string   `json:"remediationPrompt,omitempty"`
}

// Build renders r. A nil result yields nil. For a real verdict the flaws
// and remediation prompt are dropped whatever the model sent.
func Build(r *chat.Result) *Report {
	if r == nil {
		return nil
	}

	rep := &Report{
		IsLikelyAI:   r.IsLikelyAI,
		VerdictTitle: r.VerdictTitle,
		Reasoning:    r.Reasoning,
		Score:        r.ConfidenceScore,
		ScoreLabel:   FormatScore(r.ConfidenceScore),
		Gauge:        NewGauge(r.ConfidenceScore),
		Palette:      SafePalette,
	}

	if r.IsLikelyAI {
		rep.Palette = WarningPalette
		rep.ShowDetails = true
		rep.Flaws = append([]string(nil), r.Flaws...)
		rep.RemediationPrompt = r.RemediationPrompt
	}
	return rep
}

// HasFlaws reports whether the flaw list should be shown.
func (r *Report) HasFlaws() bool { return r.ShowDetails && len(r.Flaws) > 0 }

// HasRemediation reports whether the remediation block should be shown.
func (r *Report) HasRemediation() bool {
	return r.ShowDetails && strings.TrimSpace(r.RemediationPrompt) != ""
}

// FormatScore renders a score as "92%".
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64) + "%"
}

// FormatSize renders a byte count in megabytes with two decimals.
func FormatSize(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/1024/1024)
}

// FormatElapsed renders how long an analysis took: "8.4s" under a minute,
// "M:SS" up to an hour and "H:MM:SS" beyond.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
	}
	total := int(d.Seconds())
	hours, minutes, seconds := total/3600, (total%3600)/60, total%60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatKind renders the subtype of a MIME type in upper case:
// "image/jpeg" becomes "JPEG".
func FormatKind(mimeType string) string {
	_, sub, ok := strings.Cut(mimeType, "/")
	if !ok {
		return strings.ToUpper(mimeType)
	}
	if i := strings.IndexByte(sub, ';'); i >= 0 {
		sub = sub[:i]
	}
	return strings.ToUpper(strings.TrimSpace(sub))
}
