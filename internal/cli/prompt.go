package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/filehandler"
)

// ErrNoSelection is returned when the user cancels the picker or enters nothing.
var ErrNoSelection = errors.New("no image selected")

// ImagePatterns returns the picker glob patterns for supported images.
func ImagePatterns() []string {
	patterns := make([]string, 0, len(filehandler.SupportedImageExtensions))
	for ext := range filehandler.SupportedImageExtensions {
		patterns = append(patterns, "*"+ext)
	}
	sort.Strings(patterns)
	return patterns
}

// PickImage opens the native file dialog. When no dialog is available it
// falls back to reading a path from in.
func PickImage(in io.Reader, out io.Writer) (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title("选择要鉴别的图片"),
		zenity.FileFilters{
			{
				Name:     "Images",
				Patterns: ImagePatterns(),
				CaseFold: true,
			},
		},
	)
	switch {
	case err == nil:
		log.Debug().Str("path", selected).Msg("Image picked via native dialog")
		return selected, nil
	case errors.Is(err, zenity.ErrCanceled):
		return "", ErrNoSelection
	default:
		log.Debug().Err(err).Msg("Native file dialog unavailable, prompting on terminal")
		return PromptForPath(in, out)
	}
}

// PromptForPath asks for an image path on the terminal.
func PromptForPath(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Image path: ")

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrNoSelection
	}
	return input, nil
}
