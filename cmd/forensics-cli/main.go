package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blackbee/ai-forensics/internal/auth"
	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/cli"
	"github.com/blackbee/ai-forensics/internal/logging"
)

// CLI flags shared by every subcommand
var (
	modelFlag        string
	timeoutFlag      time.Duration
	skipValidateFlag bool
	envFileFlag      string
	credentialsFlag  string
	passphraseFlag   string
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "forensics-cli",
	Short: "Detect AI-generated images from the terminal",
	Long: `Forensics CLI sends one local image to Gemini and prints whether it looks
AI-generated or like a real photo, with a confidence score, the reasoning and,
for AI images, the visible flaws and a remediation prompt.

Examples:
  forensics-cli analyze photo.jpg
  forensics-cli analyze              # pick the image in a file dialog
  forensics-cli analyze photo.png --json
  forensics-cli mcp                  # serve analyze_image over MCP stdio`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		envErr := cli.LoadEnvFile(envFileFlag)
		logging.Init()
		if envErr != nil {
			log.Warn().Err(envErr).Str("file", envFileFlag).Msg("Failed to load environment file")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default GEMINI_MODEL or "+chat.DefaultModelName+")")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "analysis-timeout", chat.DefaultTimeout, "Upper bound for one analysis call")
	rootCmd.PersistentFlags().BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check at startup")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.PersistentFlags().StringVar(&credentialsFlag, "credentials", "", "GPG-encrypted API key file (default ~/.blackbee-forensics/credentials.gpg)")
	rootCmd.PersistentFlags().StringVar(&passphraseFlag, "gpg-passphrase-file", "", "Passphrase file for non-interactive GPG decryption (mode 0600)")

	rootCmd.AddCommand(analyzeCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newAnalyzer connects to Gemini with the resolved model and timeout.
func newAnalyzer(ctx context.Context) *chat.Analyzer {
	model := modelFlag
	if model == "" {
		model = chat.GetModelName()
	}
	client := cli.InitGeminiClient(ctx, keySources(), model, skipValidateFlag)
	return chat.NewAnalyzer(client.Models, chat.WithModel(model), chat.WithTimeout(timeoutFlag))
}

// keySources applies the credential flags over the default key sources.
func keySources() auth.KeySources {
	keys := auth.DefaultKeySources()
	if credentialsFlag != "" {
		keys.CredentialsFile = credentialsFlag
	}
	if passphraseFlag != "" {
		keys.PassphraseFile = passphraseFlag
	}
	return keys
}
