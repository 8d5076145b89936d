package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/filehandler"
)

// objectKey returns the S3 key for a session's image.
func (s *DynamoStore) objectKey(sessionID, payloadID string) string {
	return s.cfg.KeyPrefix + sessionID + "/" + payloadID
}

// putPayload uploads the payload's raw bytes.
func (s *DynamoStore) putPayload(ctx context.Context, key string, p *filehandler.Payload) error {
	data, ok := p.Bytes()
	if !ok {
		return fmt.Errorf("payload %s already released", p.ID)
	}
	_, err := s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.cfg.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &p.MIMEType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int64("size_bytes", p.Size).Msg("Image uploaded to S3")
	return nil
}

// getPayload downloads the image described by item and rebuilds the payload.
func (s *DynamoStore) getPayload(ctx context.Context, item *payloadItem) (*filehandler.Payload, error) {
	result, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &item.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s: %w", item.Key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", item.Key, err)
	}
	return filehandler.Rebuild(item.ID, item.Filename, item.MIMEType, data)
}

// deleteObject removes an image the session no longer references. Failures
// are logged; the bucket lifecycle rule collects anything left behind.
func (s *DynamoStore) deleteObject(ctx context.Context, key string) {
	if _, err := s.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
	}); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete session image")
	}
}
