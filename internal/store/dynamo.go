package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/session"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "SESSION#"
	skMeta   = "META"
)

// DynamoStore implements session.Store on DynamoDB and S3.
type DynamoStore struct {
	db      DynamoAPI
	objects ObjectAPI
	cfg     Config
	now     func() time.Time
}

// Compile-time interface check.
var _ session.Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore. The clients should be initialized
// from the shared AWS config.
func NewDynamoStore(db DynamoAPI, objects ObjectAPI, cfg Config) *DynamoStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = session.DefaultTTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &DynamoStore{db: db, objects: objects, cfg: cfg, now: time.Now}
}

// TTL implements session.Store.
func (s *DynamoStore) TTL() time.Duration { return s.cfg.TTL }

// sessionPK returns the partition key for a session.
func sessionPK(sessionID string) string {
	return pkPrefix + sessionID
}

// Acquire implements session.Store. New sessions are not written until
// their first Commit.
func (s *DynamoStore) Acquire(ctx context.Context, id string) (string, *session.Machine, bool, error) {
	if id != "" {
		m, ok, err := s.Lookup(ctx, id)
		if err != nil {
			return "", nil, false, err
		}
		if ok {
			return id, m, false, nil
		}
	}
	id = uuid.NewString()
	log.Debug().Str("session_id", id).Msg("Session created")
	return id, session.NewMachine(), true, nil
}

// Lookup implements session.Store. Items past expiresAt count as missing
// even before DynamoDB's TTL sweep removes them. A session left analyzing
// longer than StaleAfter is moved to Error, since the container running
// it has gone.
func (s *DynamoStore) Lookup(ctx context.Context, id string) (*session.Machine, bool, error) {
	var item sessionItem
	found, err := s.getItem(ctx, sessionPK(id), skMeta, &item)
	if err != nil || !found {
		return nil, false, err
	}
	now := s.now()
	if item.ExpiresAt > 0 && now.Unix() > item.ExpiresAt {
		log.Debug().Str("session_id", id).Msg("Ignoring expired session")
		return nil, false, nil
	}

	st, err := s.decode(ctx, id, &item)
	if err != nil {
		return nil, false, err
	}
	m := session.Restore(st)

	if st.Status == session.StatusAnalyzing && now.Sub(st.Since) > s.cfg.StaleAfter {
		log.Warn().
			Str("session_id", id).
			Uint64("generation", st.Generation).
			Time("since", st.Since).
			Msg("Abandoning stale analysis")
		m.Abandon(chat.MsgAnalysisFailed)
	}
	return m, true, nil
}

// Commit implements session.Store. It uploads a newly selected image,
// writes the item conditional on the loaded revision, then removes the
// image the session no longer holds. Every commit pushes expiresAt out.
func (s *DynamoStore) Commit(ctx context.Context, id string, m *session.Machine) error {
	st, base := m.Export()
	next := session.StampOf(st)

	item, err := s.encode(id, st)
	if err != nil {
		return err
	}

	uploaded := false
	if st.Payload != nil && next.PayloadID != base.PayloadID {
		if err := s.putPayload(ctx, item.Payload.Key, st.Payload); err != nil {
			return err
		}
		uploaded = true
	}

	if err := s.putItem(ctx, sessionPK(id), skMeta, item, base.Revision); err != nil {
		if uploaded {
			s.deleteObject(ctx, item.Payload.Key)
		}
		return err
	}
	m.MarkStored(next)

	if base.PayloadID != "" && base.PayloadID != next.PayloadID {
		s.deleteObject(ctx, s.objectKey(id, base.PayloadID))
	}
	log.Debug().
		Str("session_id", id).
		Uint64("revision", st.Revision).
		Str("status", st.Status.String()).
		Msg("Session committed")
	return nil
}

// encode converts machine state into the stored item.
func (s *DynamoStore) encode(id string, st session.State) (*sessionItem, error) {
	now := s.now()
	item := &sessionItem{
		Revision:   st.Revision,
		Generation: st.Generation,
		Status:     st.Status.String(),
		Error:      st.Error,
		Notice:     st.Notice,
		ChangedAt:  st.Since.UnixMilli(),
		ExpiresAt:  now.Add(s.cfg.TTL).Unix(),
	}
	if st.Since.IsZero() {
		item.ChangedAt = now.UnixMilli()
	}
	if p := st.Payload; p != nil {
		if _, ok := p.Bytes(); !ok {
			return nil, fmt.Errorf("session %s: payload %s already released", id, p.ID)
		}
		item.Payload = &payloadItem{
			ID:       p.ID,
			Filename: p.Filename,
			MIMEType: p.MIMEType,
			Size:     p.Size,
			Key:      s.objectKey(id, p.ID),
		}
	}
	if r := st.Result; r != nil {
		item.Result = &resultItem{
			IsLikelyAI:        r.IsLikelyAI,
			ConfidenceScore:   r.ConfidenceScore,
			VerdictTitle:      r.VerdictTitle,
			Reasoning:         r.Reasoning,
			Flaws:             r.Flaws,
			RemediationPrompt: r.RemediationPrompt,
		}
	}
	return item, nil
}

// decode rebuilds machine state from a stored item, fetching the image.
func (s *DynamoStore) decode(ctx context.Context, id string, item *sessionItem) (session.State, error) {
	status, ok := session.ParseStatus(item.Status)
	if !ok {
		return session.State{}, fmt.Errorf("session %s: unknown status %q", id, item.Status)
	}
	st := session.State{
		Status:     status,
		Error:      item.Error,
		Notice:     item.Notice,
		Generation: item.Generation,
		Revision:   item.Revision,
		Since:      time.UnixMilli(item.ChangedAt),
	}
	if p := item.Payload; p != nil {
		payload, err := s.getPayload(ctx, p)
		if err != nil {
			return session.State{}, fmt.Errorf("session %s: %w", id, err)
		}
		st.Payload = payload
	}
	if r := item.Result; r != nil {
		st.Result = (&chat.Result{
			IsLikelyAI:        r.IsLikelyAI,
			ConfidenceScore:   r.ConfidenceScore,
			VerdictTitle:      r.VerdictTitle,
			Reasoning:         r.Reasoning,
			Flaws:             r.Flaws,
			RemediationPrompt: r.RemediationPrompt,
		}).Sanitized()
	}
	return st, nil
}

// putItem marshals data and writes it with PK, SK and the expiry. The write
// only succeeds when no item exists yet or the stored revision is base.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data *sessionItem, base uint64) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.cfg.Table,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR revision = :base"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":base": &types.AttributeValueMemberN{Value: strconv.FormatUint(base, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("PutItem PK=%s SK=%s revision %d: %w", pk, sk, base, session.ErrConflict)
		}
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out. It returns false
// when the item does not exist.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out *sessionItem) (bool, error) {
	result, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.cfg.Table,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}
