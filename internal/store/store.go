// Package store persists browser sessions outside the process so every
// Lambda container sees the same state.
//
// Session metadata lives in one DynamoDB item per session (PK SESSION#<id>,
// SK META) with an expiresAt TTL attribute. The uploaded image is kept in
// S3 under sessions/<id>/<payloadID>, since a 4 MB image does not fit the
// 400 KB item limit. Writes are conditional on the revision the request
// loaded, so a concurrent update surfaces as session.ErrConflict rather
// than a lost write.
package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Defaults for Config.
const (
	DefaultKeyPrefix  = "sessions/"
	DefaultStaleAfter = 2 * time.Minute
)

// DynamoAPI is the subset of *dynamodb.Client the store calls.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// ObjectAPI is the subset of *s3.Client the store calls.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config names the table and bucket and sets the timing rules.
type Config struct {
	Table  string
	Bucket string
	// KeyPrefix prefixes image object keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// TTL is the idle expiry written to expiresAt. Defaults to
	// session.DefaultTTL.
	TTL time.Duration
	// StaleAfter is how long a session may stay analyzing before a load
	// marks the run failed. It should exceed the analysis timeout.
	// Defaults to DefaultStaleAfter.
	StaleAfter time.Duration
}

// sessionItem is the DynamoDB shape of one session. PK, SK and expiresAt
// are added by putItem.
type sessionItem struct {
	Revision   uint64       `dynamodbav:"revision"`
	Generation uint64       `dynamodbav:"generation"`
	Status     string       `dynamodbav:"status"`
	Payload    *payloadItem `dynamodbav:"payload,omitempty"`
	Result     *resultItem  `dynamodbav:"result,omitempty"`
	Error      string       `dynamodbav:"error,omitempty"`
	Notice     string       `dynamodbav:"notice,omitempty"`
	ChangedAt  int64        `dynamodbav:"changedAt"`
	ExpiresAt  int64        `dynamodbav:"expiresAt"`
}

// payloadItem describes the image; the bytes are in S3 under Key.
type payloadItem struct {
	ID       string `dynamodbav:"id"`
	Filename string `dynamodbav:"filename"`
	MIMEType string `dynamodbav:"mimeType"`
	Size     int64  `dynamodbav:"size"`
	Key      string `dynamodbav:"key"`
}

type resultItem struct {
	IsLikelyAI        bool     `dynamodbav:"isLikelyAI"`
	ConfidenceScore   float64  `dynamodbav:"confidenceScore"`
	VerdictTitle      string   `dynamodbav:"verdictTitle"`
	Reasoning         string   `dynamodbav:"reasoning"`
	Flaws             []string `dynamodbav:"flaws,omitempty"`
	RemediationPrompt string   `dynamodbav:"remediationPrompt,omitempty"`
}
