package s3blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polyoracle/internal/crypto"
	"github.com/alanyoungcy/polyoracle/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	contentTypeJSON  = "application/json"
	contentTypeSig   = "text/plain"

	// defaultMultipartThreshold switches uploads to the multipart manager.
	defaultMultipartThreshold int64 = 16 * 1024 * 1024
)

// Signer signs archive digests. *crypto.Signer satisfies it.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	Address() common.Address
}

// EventArchiver implements domain.Archiver. It exports the event log up to a
// cutoff as JSONL and, when a Signer is set, stores a detached signature next
// to it. Events are never removed from the store.
type EventArchiver struct {
	store     domain.Store
	writer    domain.BlobWriter
	signer    Signer
	threshold int64
	logger    *slog.Logger
}

// ArchiverOption configures an EventArchiver.
type ArchiverOption func(*EventArchiver)

// WithSigner signs every archive file.
func WithSigner(s Signer) ArchiverOption {
	return func(a *EventArchiver) { a.signer = s }
}

// WithMultipartThreshold sets the payload size above which PutMultipart is used.
func WithMultipartThreshold(n int64) ArchiverOption {
	return func(a *EventArchiver) {
		if n > 0 {
			a.threshold = n
		}
	}
}

// NewArchiver creates an EventArchiver.
func NewArchiver(store domain.Store, writer domain.BlobWriter, logger *slog.Logger, opts ...ArchiverOption) *EventArchiver {
	a := &EventArchiver{
		store:     store,
		writer:    writer,
		threshold: defaultMultipartThreshold,
		logger:    logger.With(slog.String("component", "event_archiver")),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ArchiveEvents uploads every event recorded strictly before the cutoff to
// archive/events/YYYY-MM-DD.jsonl and returns how many were written. Each run
// rewrites the whole prefix of the log, so a later run supersedes an earlier
// file for the same day.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var events []domain.Event
	err := a.store.View(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		events, err = r.Events.ListBefore(ctx, before)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", before)
	if int64(len(buf)) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	if a.signer != nil {
		if err := putSignature(ctx, a.writer, a.signer, path, buf); err != nil {
			return 0, fmt.Errorf("s3blob: archive events: %w", err)
		}
	}

	count := int64(len(events))
	a.logger.InfoContext(ctx, "events archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("last_seq", events[len(events)-1].Seq),
		slog.Time("before", before),
	)
	return count, nil
}

// VerifySignature checks that the detached signature of the object at path
// was produced by want over the object's current contents.
func VerifySignature(ctx context.Context, reader domain.BlobReader, path string, want common.Address) error {
	data, err := readAll(ctx, reader, path)
	if err != nil {
		return err
	}
	sigHex, err := readAll(ctx, reader, signaturePath(path))
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(string(bytes.TrimSpace(sigHex)))
	if err != nil {
		return fmt.Errorf("s3blob: decode signature of %s: %w", path, err)
	}
	got, err := crypto.RecoverAddress(archiveDigest(data), sig)
	if err != nil {
		return fmt.Errorf("s3blob: verify %s: %w", path, err)
	}
	if got != want {
		return fmt.Errorf("s3blob: verify %s: signed by %s: %w", path, got.Hex(), ErrArchiveMismatch)
	}
	return nil
}

func putSignature(ctx context.Context, w domain.BlobWriter, s Signer, path string, data []byte) error {
	sig, err := s.Sign(archiveDigest(data))
	if err != nil {
		return fmt.Errorf("sign %s: %w", path, err)
	}
	body := []byte(hex.EncodeToString(sig))
	if err := w.Put(ctx, signaturePath(path), bytes.NewReader(body), contentTypeSig); err != nil {
		return fmt.Errorf("upload signature of %s: %w", path, err)
	}
	return nil
}

// archiveDigest is the message signed for an archive object.
func archiveDigest(data []byte) []byte {
	return []byte("polyoracle/archive\n" + ethcrypto.Keccak256Hash(data).Hex())
}

func signaturePath(path string) string {
	return path + ".sig"
}

func readAll(ctx context.Context, reader domain.BlobReader, path string) ([]byte, error) {
	rc, err := reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return data, nil
}

// archivePath builds the key of an archive file, partitioned by the cutoff
// day.
//
//	archive/events/2025-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver = (*EventArchiver)(nil)
	_ Signer          = (*crypto.Signer)(nil)
)
