package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// ErrArchiveMismatch reports an archived object that disagrees with the store.
var ErrArchiveMismatch = errors.New("s3blob: archive mismatch")

// overrideObject is the archived form of one emergency override.
type overrideObject struct {
	EventID           string   `json:"event_id"`
	MarketID          string   `json:"market_id"`
	ForcedOutcome     uint32   `json:"forced_outcome"`
	JustificationHash string   `json:"justification_hash"`
	Approvers         []string `json:"approvers"`
	Timestamp         int64    `json:"timestamp"`
}

// OverrideArchive is a domain.EventSink that writes one immutable object per
// EmergencyOverride event to overrides/<market>/<unix>.json. VerifyOverrides
// checks the archive against the store's override history.
type OverrideArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	signer Signer
	logger *slog.Logger
}

// NewOverrideArchive creates an OverrideArchive. signer may be nil.
func NewOverrideArchive(writer domain.BlobWriter, reader domain.BlobReader, signer Signer, logger *slog.Logger) *OverrideArchive {
	return &OverrideArchive{
		writer: writer,
		reader: reader,
		signer: signer,
		logger: logger.With(slog.String("component", "override_archive")),
	}
}

// Publish implements domain.EventSink. Events other than EmergencyOverride
// are ignored.
func (a *OverrideArchive) Publish(ctx context.Context, ev domain.Event) error {
	if ev.Type != domain.EventEmergencyOverride {
		return nil
	}

	obj, err := overrideFromEvent(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("s3blob: marshal override: %w", err)
	}

	path := overridePathHex(obj.MarketID, obj.Timestamp)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return fmt.Errorf("s3blob: archive override: %w", err)
	}
	if a.signer != nil {
		if err := putSignature(ctx, a.writer, a.signer, path, data); err != nil {
			return fmt.Errorf("s3blob: archive override: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "override archived",
		slog.String("path", path),
		slog.String("event_id", ev.ID),
	)
	return nil
}

// VerifyOverrides compares each record with its archived copy and returns
// the number of records verified. Every missing or differing object is
// reported in the joined error.
func (a *OverrideArchive) VerifyOverrides(ctx context.Context, records []domain.OverrideRecord) (int, error) {
	var (
		errs     []error
		verified int
	)
	for _, rec := range records {
		if err := a.verifyOne(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		verified++
	}
	return verified, errors.Join(errs...)
}

func (a *OverrideArchive) verifyOne(ctx context.Context, rec domain.OverrideRecord) error {
	path := OverridePath(rec.MarketID, rec.Timestamp)

	data, err := readAll(ctx, a.reader, path)
	if err != nil {
		return err
	}
	var got overrideObject
	if err := json.Unmarshal(data, &got); err != nil {
		return fmt.Errorf("s3blob: decode %s: %w", path, err)
	}

	want := overrideFromRecord(rec)
	if got.MarketID != want.MarketID ||
		got.ForcedOutcome != want.ForcedOutcome ||
		got.JustificationHash != want.JustificationHash ||
		got.Timestamp != want.Timestamp ||
		!slices.Equal(got.Approvers, want.Approvers) {
		return fmt.Errorf("s3blob: %s: %w", path, ErrArchiveMismatch)
	}

	if a.signer != nil {
		if err := VerifySignature(ctx, a.reader, path, a.signer.Address()); err != nil {
			return err
		}
	}
	return nil
}

// OverridePath is the archive key of the override of id recorded at ts.
func OverridePath(id domain.MarketID, ts time.Time) string {
	return overridePathHex(id.Hex(), ts.Unix())
}

func overridePathHex(market string, unix int64) string {
	return fmt.Sprintf("overrides/%s/%d.json", market, unix)
}

// overrideFromEvent decodes the event attributes through JSON so numeric
// and slice attributes compare the same whether the event came from the
// engine or from a decoded stream message.
func overrideFromEvent(ev domain.Event) (overrideObject, error) {
	raw, err := json.Marshal(ev.Attributes)
	if err != nil {
		return overrideObject{}, fmt.Errorf("s3blob: override event %s: %w", ev.ID, err)
	}
	var obj overrideObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return overrideObject{}, fmt.Errorf("s3blob: override event %s: %w", ev.ID, err)
	}
	if obj.MarketID == "" {
		return overrideObject{}, fmt.Errorf("s3blob: override event %s: missing market_id", ev.ID)
	}
	obj.EventID = ev.ID
	return obj, nil
}

func overrideFromRecord(rec domain.OverrideRecord) overrideObject {
	approvers := make([]string, len(rec.Approvers))
	for i, a := range rec.Approvers {
		approvers[i] = a.String()
	}
	return overrideObject{
		MarketID:          rec.MarketID.Hex(),
		ForcedOutcome:     uint32(rec.ForcedOutcome),
		JustificationHash: rec.JustificationHash.Hex(),
		Approvers:         approvers,
		Timestamp:         rec.Timestamp.Unix(),
	}
}

var _ domain.EventSink = (*OverrideArchive)(nil)
