// Package lambdaboot holds the Lambda cold-start helpers: AWS config,
// the Gemini API key from SSM Parameter Store, and startup logging.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/logging"
)

// DefaultAPIKeyParam is read when SSM_API_KEY_PARAM is unset.
const DefaultAPIKeyParam = "/ai-forensics/prod/gemini-api-key"

// ParameterGetter is the SSM call used to fetch secrets. *ssm.Client satisfies it.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSClients holds the AWS SDK clients the Lambda needs.
type AWSClients struct {
	Config   aws.Config
	SSM      *ssm.Client
	DynamoDB *dynamodb.Client
	S3       *s3.Client
}

// InitAWS loads the default AWS config and builds the SSM, DynamoDB and S3
// clients from it.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config:   cfg,
		SSM:      ssm.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
		S3:       s3.NewFromConfig(cfg),
	}, nil
}

// LoadGeminiKey returns GEMINI_API_KEY when set, otherwise decrypts the
// parameter named by SSM_API_KEY_PARAM (or DefaultAPIKeyParam).
func LoadGeminiKey(ctx context.Context, getter ParameterGetter) (string, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key, nil
	}
	paramName := os.Getenv("SSM_API_KEY_PARAM")
	if paramName == "" {
		paramName = DefaultAPIKeyParam
	}

	ssmStart := time.Now()
	result, err := getter.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read API key from SSM parameter %s: %w", paramName, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", paramName)
	}

	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	return *result.Parameter.Value, nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
