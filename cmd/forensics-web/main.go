package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blackbee/ai-forensics/internal/auth"
	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/cli"
	"github.com/blackbee/ai-forensics/internal/logging"
	"github.com/blackbee/ai-forensics/internal/session"
	"github.com/blackbee/ai-forensics/internal/webapp"
)

// CLI flags
var (
	portFlag          int
	modelFlag         string
	timeoutFlag       time.Duration
	maxUploadMBFlag   int64
	sessionTTLFlag    time.Duration
	originsFlag       []string
	secureCookiesFlag bool
	skipValidateFlag  bool
	envFileFlag       string
	credentialsFlag   string
	passphraseFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "forensics-web",
	Short: "Web UI for AI-generated image detection",
	Long: `Forensics Web starts a local web server where you upload one image and
Gemini judges whether it is AI-generated or a real photo. The report shows
a confidence gauge, the reasoning, and for AI images the detected flaws and
a remediation prompt you can copy.

Examples:
  forensics-web
  forensics-web --port 9090
  forensics-web --model gemini-2.5-pro --analysis-timeout 2m`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on (env PORT)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default GEMINI_MODEL or "+chat.DefaultModelName+")")
	rootCmd.Flags().DurationVar(&timeoutFlag, "analysis-timeout", chat.DefaultTimeout, "Upper bound for one analysis call")
	rootCmd.Flags().Int64Var(&maxUploadMBFlag, "max-upload-mb", webapp.DefaultMaxUploadBytes>>20, "Largest accepted upload in megabytes")
	rootCmd.Flags().DurationVar(&sessionTTLFlag, "session-ttl", session.DefaultTTL, "Expire browser sessions idle for this long")
	rootCmd.Flags().StringSliceVar(&originsFlag, "allowed-origins", nil, "Origins allowed to call the JSON API cross-site")
	rootCmd.Flags().BoolVar(&secureCookiesFlag, "secure-cookies", false, "Mark the session cookie Secure (use behind HTTPS)")
	rootCmd.Flags().BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check at startup")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.Flags().StringVar(&credentialsFlag, "credentials", "", "GPG-encrypted API key file (default ~/.blackbee-forensics/credentials.gpg)")
	rootCmd.Flags().StringVar(&passphraseFlag, "gpg-passphrase-file", "", "Passphrase file for non-interactive GPG decryption (mode 0600)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	envErr := cli.LoadEnvFile(envFileFlag)
	logging.Init()
	if envErr != nil {
		log.Warn().Err(envErr).Str("file", envFileFlag).Msg("Failed to load environment file")
	}

	if !cmd.Flags().Changed("port") {
		if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
			portFlag = p
		}
	}
	model := modelFlag
	if model == "" {
		model = chat.GetModelName()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := cli.InitGeminiClient(ctx, keySources(), model, skipValidateFlag)
	analyzer := chat.NewAnalyzer(client.Models, chat.WithModel(model), chat.WithTimeout(timeoutFlag))

	sessions := session.NewRegistry(sessionTTLFlag)
	sessions.StartSweeper(ctx, time.Minute)

	app := webapp.New(webapp.Config{
		Analyzer:       analyzer,
		Sessions:       sessions,
		Model:          model,
		MaxUploadBytes: maxUploadMBFlag << 20,
		AllowedOrigins: originsFlag,
		SecureCookies:  secureCookiesFlag,
		BaseContext:    ctx,
	})

	addr := fmt.Sprintf(":%d", portFlag)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown failed")
		}
		cancel()
	}()

	logging.NewStartupLogger("forensics-web").
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("model", model).
		Config("port", strconv.Itoa(portFlag)).
		Config("analysisTimeout", timeoutFlag.String()).
		Config("maxUploadMB", strconv.FormatInt(maxUploadMBFlag, 10)).
		Config("sessionTTL", sessionTTLFlag.String()).
		Config("allowedOrigins", strings.Join(originsFlag, ",")).
		Feature("keyValidation", !skipValidateFlag).
		Feature("secureCookies", secureCookiesFlag).
		Feature("cors", len(originsFlag) > 0).
		InitDuration(time.Since(initStart)).
		Log()

	fmt.Printf("\n  黑蜂AI鉴别大师: http://localhost:%d\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
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
