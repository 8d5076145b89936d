// Package main runs the forensics web surface behind API Gateway.
//
// The handler is the same one forensics-web serves. Analyses run inline so
// they finish before the invocation returns. With DYNAMO_TABLE_NAME set,
// sessions are kept in DynamoDB (images in MEDIA_BUCKET_NAME) and any
// container can serve any request. Without it they live in the warm
// container's memory, which is only consistent when the function runs with
// reserved concurrency 1.
//
// Environment:
//
//	GEMINI_API_KEY      API key; read from SSM when unset
//	SSM_API_KEY_PARAM   SSM parameter holding the key
//	GEMINI_MODEL        model override
//	ANALYSIS_TIMEOUT    per-call bound (default 25s, under the API Gateway limit)
//	MAX_UPLOAD_MB       upload cap (default 4, under the Lambda payload limit)
//	SESSION_TTL         idle session expiry (default 30m)
//	ALLOWED_ORIGINS     comma-separated CORS origins
//	DYNAMO_TABLE_NAME   session table (PK/SK strings, TTL on expiresAt)
//	MEDIA_BUCKET_NAME   bucket for session images; required with the table
package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/lambdaboot"
	"github.com/blackbee/ai-forensics/internal/logging"
	"github.com/blackbee/ai-forensics/internal/session"
	"github.com/blackbee/ai-forensics/internal/store"
	"github.com/blackbee/ai-forensics/internal/webapp"
)

const (
	defaultAnalysisTimeout = 25 * time.Second
	defaultMaxUploadMB     = 4
)

func main() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("AWS init failed")
	}
	apiKey, err := lambdaboot.LoadGeminiKey(ctx, clients.SSM)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	timeout := envDuration("ANALYSIS_TIMEOUT", defaultAnalysisTimeout)
	maxUploadMB := envInt("MAX_UPLOAD_MB", defaultMaxUploadMB)
	ttl := envDuration("SESSION_TTL", session.DefaultTTL)
	origins := splitList(logging.EnvOrDefault("ALLOWED_ORIGINS", ""))

	analyzer := chat.NewAnalyzer(client.Models, chat.WithTimeout(timeout))

	tableName := logging.EnvOrDefault("DYNAMO_TABLE_NAME", "")
	bucket := logging.EnvOrDefault("MEDIA_BUCKET_NAME", "")
	var sessions session.Store
	spawn := func(run func()) { run() }
	if tableName != "" {
		if bucket == "" {
			log.Fatal().Msg("MEDIA_BUCKET_NAME environment variable is required with DYNAMO_TABLE_NAME")
		}
		sessions = store.NewDynamoStore(clients.DynamoDB, clients.S3, store.Config{
			Table:      tableName,
			Bucket:     bucket,
			TTL:        ttl,
			StaleAfter: timeout + 30*time.Second,
		})
	} else {
		log.Warn().Msg("DYNAMO_TABLE_NAME not set; sessions are per container, run with reserved concurrency 1")
		registry := session.NewRegistry(ttl)
		sessions = registry
		spawn = func(run func()) {
			run()
			registry.Sweep()
		}
	}

	app := webapp.New(webapp.Config{
		Analyzer:       analyzer,
		Sessions:       sessions,
		Model:          analyzer.Model(),
		MaxUploadBytes: maxUploadMB << 20,
		AllowedOrigins: origins,
		SecureCookies:  true,
		Spawn:          spawn,
	})

	lambdaboot.StartupLog("forensics-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("model", analyzer.Model()).
		Config("analysisTimeout", timeout.String()).
		Config("maxUploadMB", strconv.FormatInt(maxUploadMB, 10)).
		Config("sessionTTL", ttl.String()).
		Config("sessionTable", tableName).
		Config("mediaBucket", bucket).
		Feature("cors", len(origins) > 0).
		Feature("sharedSessions", tableName != "").
		Log()

	adapter := httpadapter.NewV2(app.Handler())
	lambda.Start(adapter.ProxyWithContext)
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := logging.EnvOrDefault(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Err(err).Str("envVar", key).Msg("Invalid duration, using default")
		return def
	}
	return d
}

func envInt(key string, def int64) int64 {
	raw := logging.EnvOrDefault(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		log.Warn().Str("envVar", key).Str("value", raw).Msg("Invalid number, using default")
		return def
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
