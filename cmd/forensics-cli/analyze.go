package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/cli"
	"github.com/blackbee/ai-forensics/internal/filehandler"
	"github.com/blackbee/ai-forensics/internal/report"
	"github.com/blackbee/ai-forensics/internal/session"
)

var jsonFlag bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [image]",
	Short: "Analyze one image",
	Long: `Analyze sends the image to Gemini once and prints the forensic report.
Without an argument a native file dialog opens; when no dialog is available
the path is read from the terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the result as JSON instead of a styled report")
}

// analysisOutput is the --json document.
type analysisOutput struct {
	File     report.FileInfo `json:"file"`
	Result   *chat.Result    `json:"result"`
	Model    string          `json:"model"`
	Duration string          `json:"duration"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		picked, err := cli.PickImage(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		path = picked
	}

	resolved, err := cli.ResolveImagePath(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	analyzer := newAnalyzer(ctx)
	return analyzeFile(ctx, cmd.OutOrStdout(), analyzer, analyzer.Model(), resolved, jsonFlag)
}

// analyzeFile runs one analysis of path through a session machine and
// writes the report, or the JSON document when asJSON is set.
func analyzeFile(ctx context.Context, w io.Writer, analyzer session.Analyzer, model, path string, asJSON bool) error {
	payload, err := filehandler.LoadFile(path)
	if err != nil {
		if errors.Is(err, filehandler.ErrUnsupportedType) {
			return errors.New(filehandler.MsgUnsupportedType)
		}
		return fmt.Errorf("%s: %w", filehandler.MsgEncodingFailed, err)
	}

	m := session.NewMachine()
	defer m.Close()
	m.Select(payload)

	log.Info().Str("file", payload.Filename).Str("model", model).Msg("Analyzing image")
	start := time.Now()
	if err := session.Run(ctx, m, analyzer); err != nil {
		return errors.New(chat.MsgAnalysisFailed)
	}
	elapsed := time.Since(start)

	snap := m.Snapshot()
	file := report.DescribeFile(payload.Filename, payload.MIMEType, payload.Size)

	if asJSON {
		return writeJSON(w, analysisOutput{
			File:     file,
			Result:   snap.Result.Sanitized(),
			Model:    model,
			Duration: elapsed.String(),
		})
	}

	fmt.Fprint(w, renderReport(report.Build(snap.Result), file, payload.Info))
	fmt.Fprintln(w, dimStyle.Render("耗时 "+report.FormatElapsed(elapsed)))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
