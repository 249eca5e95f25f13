package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoracle/internal/crypto"
	"github.com/alanyoungcy/polyoracle/internal/domain"
	"github.com/alanyoungcy/polyoracle/internal/store/memory"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// memBucket is an in-memory BlobWriter and BlobReader.
type memBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart []string
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = buf
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	b.mu.Lock()
	b.multipart = append(b.multipart, path)
	b.mu.Unlock()
	return b.Put(ctx, path, data, "")
}

func (b *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for p, d := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(d))})
		}
	}
	return out, nil
}

func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedEvents(t *testing.T, store domain.Store, stamps ...int64) {
	t.Helper()
	err := store.Atomic(context.Background(), func(ctx context.Context, r domain.Repositories) error {
		for i, ts := range stamps {
			ev := domain.Event{
				ID:         string(rune('a' + i)),
				Type:       domain.EventMarketRegistered,
				Timestamp:  time.Unix(ts, 0).UTC(),
				Attributes: map[string]any{"n": i},
			}
			if err := r.Events.Append(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestEventArchiver_ArchiveEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedEvents(t, store, 100, 200, 300)
	bucket := newMemBucket()
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	a := NewArchiver(store, bucket, discard(), WithSigner(signer))
	cutoff := time.Unix(250, 0).UTC()
	n, err := a.ArchiveEvents(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	path := archivePath("events", cutoff)
	assert.Equal(t, "archive/events/1970-01-01.jsonl", path)

	lines := strings.Split(strings.TrimSpace(string(bucket.objects[path])), "\n")
	require.Len(t, lines, 2)
	var first domain.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.ID)
	assert.Empty(t, bucket.multipart)

	require.NoError(t, VerifySignature(ctx, bucket, path, signer.Address()))

	bucket.objects[path] = append(bucket.objects[path], '\n')
	assert.ErrorIs(t, VerifySignature(ctx, bucket, path, signer.Address()), ErrArchiveMismatch)
}

func TestEventArchiver_NothingToArchive(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(memory.New(), bucket, discard())
	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bucket.objects)
}

func TestEventArchiver_LargePayloadUsesMultipart(t *testing.T) {
	store := memory.New()
	seedEvents(t, store, 1, 2)
	bucket := newMemBucket()

	a := NewArchiver(store, bucket, discard(), WithMultipartThreshold(10))
	n, err := a.ArchiveEvents(context.Background(), time.Unix(10, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"archive/events/1970-01-01.jsonl"}, bucket.multipart)
}

type failingWriter struct{ memBucket }

func (*failingWriter) Put(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}

func TestEventArchiver_UploadError(t *testing.T) {
	store := memory.New()
	seedEvents(t, store, 1)
	a := NewArchiver(store, &failingWriter{}, discard())
	_, err := a.ArchiveEvents(context.Background(), time.Unix(10, 0))
	assert.ErrorContains(t, err, "bucket unavailable")
}

func overrideEvent(id domain.MarketID, ts int64, approvers ...string) domain.Event {
	return domain.Event{
		ID:   "ev-1",
		Type: domain.EventEmergencyOverride,
		Attributes: map[string]any{
			"market_id":          id.Hex(),
			"forced_outcome":     uint32(domain.OutcomeNo),
			"justification_hash": domain.Hash{0xCA}.Hex(),
			"approvers":          approvers,
			"timestamp":          ts,
		},
	}
}

func TestOverrideArchive_PublishAndVerify(t *testing.T) {
	ctx := context.Background()
	bucket := newMemBucket()
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	arch := NewOverrideArchive(bucket, bucket, signer, discard())

	id := domain.MarketID{31: 0xA}
	require.NoError(t, arch.Publish(ctx, domain.Event{Type: domain.EventMarketRegistered}))
	assert.Empty(t, bucket.objects)

	require.NoError(t, arch.Publish(ctx, overrideEvent(id, 2000, "admin1", "admin2")))
	path := OverridePath(id, time.Unix(2000, 0))
	assert.Contains(t, bucket.objects, path)
	assert.Contains(t, bucket.objects, path+".sig")

	rec := domain.OverrideRecord{
		MarketID:          id,
		ForcedOutcome:     domain.OutcomeNo,
		JustificationHash: domain.Hash{0xCA},
		Approvers:         []domain.Address{"admin1", "admin2"},
		Timestamp:         time.Unix(2000, 0).UTC(),
	}
	n, err := arch.VerifyOverrides(ctx, []domain.OverrideRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tampered := rec
	tampered.ForcedOutcome = domain.OutcomeYes
	missing := rec
	missing.Timestamp = time.Unix(9000, 0)
	n, err = arch.VerifyOverrides(ctx, []domain.OverrideRecord{rec, tampered, missing})
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ErrArchiveMismatch)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOverrideArchive_RejectsMalformedEvent(t *testing.T) {
	arch := NewOverrideArchive(newMemBucket(), newMemBucket(), nil, discard())
	err := arch.Publish(context.Background(), domain.Event{ID: "x", Type: domain.EventEmergencyOverride})
	assert.ErrorContains(t, err, "missing market_id")
}

func TestClientKeys(t *testing.T) {
	c := &Client{prefix: "polyoracle/prod"}
	assert.Equal(t, "polyoracle/prod/overrides/a.json", c.objectKey("/overrides/a.json"))
	assert.Equal(t, "overrides/a.json", c.logicalPath("polyoracle/prod/overrides/a.json"))
	assert.Equal(t, "a.json", (&Client{}).objectKey("a.json"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.False(t, isNotFound(errors.New("boom")))
}
