package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/filehandler"
	"github.com/blackbee/ai-forensics/internal/session"
)

// fakeDynamo keeps items in memory and honors the revision condition.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	puts  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	k := keyOf(in.Item)
	if existing, ok := f.items[k]; ok {
		stored := existing["revision"].(*types.AttributeValueMemberN).Value
		base := in.ExpressionAttributeValues[":base"].(*types.AttributeValueMemberN).Value
		if stored != base {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("revision mismatch")}
		}
	}
	f.puts++
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

// fakeObjects is an in-memory bucket.
type fakeObjects struct {
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type testStore struct {
	*DynamoStore
	db      *fakeDynamo
	objects *fakeObjects
	offset  time.Duration
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	ts := &testStore{db: newFakeDynamo(), objects: newFakeObjects()}
	ts.DynamoStore = NewDynamoStore(ts.db, ts.objects, Config{
		Table:      "sessions",
		Bucket:     "images",
		TTL:        10 * time.Minute,
		StaleAfter: time.Minute,
	})
	ts.now = func() time.Time { return time.Now().Add(ts.offset) }
	return ts
}

// peer returns a second store over the same table and bucket, as another
// Lambda container would have.
func (ts *testStore) peer() *DynamoStore {
	s := NewDynamoStore(ts.db, ts.objects, ts.cfg)
	s.now = ts.now
	return s
}

func newPayload(t *testing.T, name string) *filehandler.Payload {
	t.Helper()
	p, err := filehandler.Load(strings.NewReader("image bytes of "+name), name, "image/png")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func aiResult() *chat.Result {
	return &chat.Result{
		IsLikelyAI:        true,
		ConfidenceScore:   91,
		VerdictTitle:      "极有可能是AI生成",
		Reasoning:         "光影不一致。",
		Flaws:             []string{"手指扭曲", "背景文字乱码"},
		RemediationPrompt: "解剖学正确的手部",
	}
}

func TestCommitAndLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)

	id, m, created, err := ts.Acquire(ctx, "")
	if err != nil || !created || id == "" {
		t.Fatalf("Acquire(\"\") = %q, %v, %v", id, created, err)
	}
	p := newPayload(t, "cat.png")
	m.Select(p)
	job, _ := m.Begin()
	m.Succeed(job, aiResult())
	if err := ts.Commit(ctx, id, m); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok := ts.objects.objects["sessions/"+id+"/"+p.ID]; !ok {
		t.Errorf("image not uploaded; bucket has %d objects", len(ts.objects.objects))
	}

	got, ok, err := ts.peer().Lookup(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Lookup from peer = %v, %v", ok, err)
	}
	snap := got.Snapshot()
	if snap.Status != session.StatusComplete {
		t.Errorf("Status = %v, want complete", snap.Status)
	}
	if snap.Payload.ID != p.ID || snap.Payload.Filename != "cat.png" || snap.Payload.EncodedData != p.EncodedData {
		t.Errorf("payload = %+v", snap.Payload)
	}
	if snap.Result == nil || snap.Result.RemediationPrompt != aiResult().RemediationPrompt || len(snap.Result.Flaws) != 2 {
		t.Errorf("result = %+v", snap.Result)
	}
	if _, data, ok := got.Preview(p.ID); !ok || string(data) != "image bytes of cat.png" {
		t.Errorf("Preview = %q, %v", data, ok)
	}
}

func TestAcquireUnknownIDCreatesSession(t *testing.T) {
	ts := newTestStore(t)
	id, _, created, err := ts.Acquire(context.Background(), "never-stored")
	if err != nil || !created || id == "never-stored" {
		t.Errorf("Acquire(unknown) = %q, %v, %v", id, created, err)
	}
}

func TestCommitConflict(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)

	id, m, _, _ := ts.Acquire(ctx, "")
	m.Select(newPayload(t, "first.png"))
	if err := ts.Commit(ctx, id, m); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	a, _, _ := ts.Lookup(ctx, id)
	b, _, _ := ts.peer().Lookup(ctx, id)

	pa := newPayload(t, "a.png")
	a.Select(pa)
	if err := ts.Commit(ctx, id, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	pb := newPayload(t, "b.png")
	b.Select(pb)
	err := ts.Commit(ctx, id, b)
	if !errors.Is(err, session.ErrConflict) {
		t.Fatalf("second writer err = %v, want ErrConflict", err)
	}
	if _, ok := ts.objects.objects["sessions/"+id+"/"+pb.ID]; ok {
		t.Error("the losing writer's image should be removed")
	}

	got, _, _ := ts.Lookup(ctx, id)
	if snap := got.Snapshot(); snap.Payload.ID != pa.ID {
		t.Errorf("stored payload = %s, want the first writer's %s", snap.Payload.ID, pa.ID)
	}
}

func TestCommitWithoutChangesRefreshesExpiry(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)

	id, m, _, _ := ts.Acquire(ctx, "")
	if err := ts.Commit(ctx, id, m); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ts.offset = 8 * time.Minute
	m2, ok, _ := ts.Lookup(ctx, id)
	if !ok {
		t.Fatal("session should still be live")
	}
	if err := ts.Commit(ctx, id, m2); err != nil {
		t.Fatalf("read-only Commit: %v", err)
	}

	ts.offset = 16 * time.Minute
	if _, ok, _ := ts.Lookup(ctx, id); !ok {
		t.Error("commit should have pushed the expiry out")
	}
	if ts.db.puts != 2 {
		t.Errorf("puts = %d, want 2", ts.db.puts)
	}
}

func TestLookupIgnoresExpiredSessions(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)

	id, m, _, _ := ts.Acquire(ctx, "")
	ts.Commit(ctx, id, m)

	ts.offset = 11 * time.Minute
	if _, ok, err := ts.Lookup(ctx, id); ok || err != nil {
		t.Errorf("expired Lookup = %v, %v", ok, err)
	}
	newID, _, created, _ := ts.Acquire(ctx, id)
	if !created || newID == id {
		t.Error("an expired session should be replaced")
	}
}

func TestLookupAbandonsStaleAnalysis(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)

	id, m, _, _ := ts.Acquire(ctx, "")
	m.Select(newPayload(t, "a.png"))
	job, err := m.Begin()
	if err != nil {
		t.Fatal(err)
	}
	ts.Commit(ctx, id, m)

	fresh, _, _ := ts.Lookup(ctx, id)
	if fresh.Status() != session.StatusAnalyzing {
		t.Errorf("recent analysis should stay analyzing, got %v", fresh.Status())
	}

	ts.offset = 2 * time.Minute
	stale, ok, err := ts.Lookup(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v", ok, err)
	}
	snap := stale.Snapshot()
	if snap.Status != session.StatusError || snap.Error != chat.MsgAnalysisFailed {
		t.Errorf("stale analysis = %v %q, want error", snap.Status, snap.Error)
	}
	if err := ts.Commit(ctx, id, stale); err != nil {
		t.Errorf("Commit after abandon: %v", err)
	}
	// The original worker's late result now conflicts.
	m.Succeed(job, aiResult())
	if err := ts.Commit(ctx, id, m); !errors.Is(err, session.ErrConflict) {
		t.Errorf("late commit err = %v, want ErrConflict", err)
	}
}

func TestCommitReplacesAndRemovesImages(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)

	id, m, _, _ := ts.Acquire(ctx, "")
	first := newPayload(t, "first.png")
	m.Select(first)
	ts.Commit(ctx, id, m)

	m, _, _ = ts.Lookup(ctx, id)
	second := newPayload(t, "second.png")
	m.Select(second)
	if err := ts.Commit(ctx, id, m); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok := ts.objects.objects["sessions/"+id+"/"+first.ID]; ok {
		t.Error("replaced image should be deleted")
	}
	if len(ts.objects.objects) != 1 {
		t.Errorf("bucket has %d objects, want 1", len(ts.objects.objects))
	}

	m, _, _ = ts.Lookup(ctx, id)
	m.Reset()
	if err := ts.Commit(ctx, id, m); err != nil {
		t.Fatalf("Commit after reset: %v", err)
	}
	if len(ts.objects.objects) != 0 {
		t.Errorf("reset should empty the session's images, %d left", len(ts.objects.objects))
	}
}

func TestCommitUploadFailure(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)
	ts.objects.putErr = errors.New("access denied")

	id, m, _, _ := ts.Acquire(ctx, "")
	m.Select(newPayload(t, "a.png"))
	if err := ts.Commit(ctx, id, m); err == nil || errors.Is(err, session.ErrConflict) {
		t.Errorf("Commit err = %v, want upload error", err)
	}
	if ts.db.puts != 0 {
		t.Error("item should not be written when the upload fails")
	}
}

func TestLookupRealVerdictHasNoDetails(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t)

	id, m, _, _ := ts.Acquire(ctx, "")
	m.Select(newPayload(t, "a.png"))
	ts.Commit(ctx, id, m)

	// An item written by hand with details on a real verdict.
	var stored sessionItem
	stored.Status = "complete"
	stored.Revision = 9
	stored.ChangedAt = time.Now().UnixMilli()
	stored.ExpiresAt = time.Now().Add(time.Hour).Unix()
	stored.Result = &resultItem{IsLikelyAI: false, VerdictTitle: "真实照片", Flaws: []string{"x"}, RemediationPrompt: "y"}
	if err := ts.putItem(ctx, pkPrefix+id, skMeta, &stored, 1); err != nil {
		t.Fatalf("putItem: %v", err)
	}

	got, _, err := ts.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if r := got.Snapshot().Result; r == nil || len(r.Flaws) != 0 || r.RemediationPrompt != "" {
		t.Errorf("real verdict carried details: %+v", r)
	}
}
