package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/metrics"
)

// Analyzer produces a verdict for base64 image data. *chat.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, encodedData, mimeType string) (*chat.Result, error)
}

// Run starts an analysis on m and waits for it. It returns ErrBusy or
// ErrNoImage when the machine cannot start, otherwise the analysis error
// (already recorded on the machine as StatusError).
func Run(ctx context.Context, m *Machine, a Analyzer) error {
	job, err := m.Begin()
	if err != nil {
		return err
	}
	return Execute(ctx, m, job, a)
}

// Execute runs job against a and records the outcome on m. Any failure is
// shown to the user as chat.MsgAnalysisFailed; the detail is only logged.
func Execute(ctx context.Context, m *Machine, job Job, a Analyzer) error {
	start := time.Now()
	result, err := a.Analyze(ctx, job.Payload.EncodedData, job.Payload.MIMEType)

	outcome := "complete"
	if err != nil {
		outcome = "error"
	}
	metrics.New().
		Dimension("Outcome", outcome).
		Metric("AnalysisDurationMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Count("Analyses").
		Flush()

	if err != nil {
		log.Error().
			Err(err).
			Str("payload_id", job.Payload.ID).
			Uint64("generation", job.Generation).
			Msg("Forensic analysis failed")
		m.Fail(job, chat.MsgAnalysisFailed)
		return err
	}

	m.Succeed(job, result)
	return nil
}
