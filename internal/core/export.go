package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"herbtrace/internal/blob"
	"herbtrace/pkg/domain"
)

// ErrNoArchive is returned by ExportLedger and ListExports when no archive is
// configured.
var ErrNoArchive = errors.New("core: no ledger archive configured")

// LedgerBundle is the self-contained audit document written by ExportLedger.
type LedgerBundle struct {
	ExportedAt time.Time            `json:"exportedAt"`
	Algorithm  domain.HashAlgorithm `json:"algorithm"`
	Batch      Batch                `json:"batch"`
	Events     []CustodyEvent       `json:"events"`
	Timeline   Timeline             `json:"timeline"`
	Token      string               `json:"token"`
}

// ExportResult locates an exported bundle. Existing is true when the same
// head had already been archived.
type ExportResult struct {
	Key      string    `json:"key"`
	URL      string    `json:"url,omitempty"`
	ETag     string    `json:"etag,omitempty"`
	Size     int64     `json:"sizeBytes"`
	Existing bool      `json:"existing"`
	Token    string    `json:"token"`
	At       time.Time `json:"exportedAt"`
}

// BundleKey is the archive key of a batch's bundle at a given head.
func BundleKey(batchID string, seq int64, hash string) string {
	return fmt.Sprintf("ledgers/%s/%d-%s.json", batchID, seq, hash)
}

// ExportLedger verifies a batch and archives its ledger, timeline and current
// token as one JSON bundle keyed by the ledger head. Bundles are write-once,
// so exporting an unchanged head returns the existing object.
func (s *Service) ExportLedger(ctx context.Context, batchID string) (ExportResult, error) {
	var out ExportResult
	err := s.run(ctx, opExportLedger, &opScope{entityID: batchID}, func(ctx context.Context) error {
		if s.archive == nil {
			return ErrNoArchive
		}
		batch, events, err := s.snapshot(ctx, batchID)
		if err != nil {
			return err
		}
		timeline, err := s.reconstruct(ctx, batch, events)
		if err != nil {
			return err
		}
		token := VerificationToken{
			BatchID:        batch.ID,
			SequenceNumber: batch.LatestSequenceNumber,
			ContentHash:    batch.LatestContentHash,
			Algorithm:      timeline.Algorithm,
		}
		bundle := LedgerBundle{
			ExportedAt: s.now(),
			Algorithm:  timeline.Algorithm,
			Batch:      batch,
			Events:     events,
			Timeline:   timeline,
			Token:      token.Encode(),
		}
		body, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return fmt.Errorf("encode bundle: %w", err)
		}

		key := BundleKey(batch.ID, batch.LatestSequenceNumber, batch.LatestContentHash)
		info, err := s.archive.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"batch-id":  batch.ID,
				"sequence":  strconv.FormatInt(batch.LatestSequenceNumber, 10),
				"algorithm": string(timeline.Algorithm),
			},
		})
		existing := false
		if errors.Is(err, blob.ErrExists) {
			existing = true
			info, err = s.archive.Head(ctx, key)
		}
		if err != nil {
			return fmt.Errorf("archive %s: %w", key, err)
		}

		url, err := s.archive.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: 15 * time.Minute})
		if err != nil && !errors.Is(err, blob.ErrUnsupported) {
			return fmt.Errorf("presign %s: %w", key, err)
		}
		out = ExportResult{
			Key:      key,
			URL:      url,
			ETag:     info.ETag,
			Size:     info.Size,
			Existing: existing,
			Token:    bundle.Token,
			At:       bundle.ExportedAt,
		}
		return nil
	})
	return out, err
}

// ListExports returns the archived bundles of an existing batch.
func (s *Service) ListExports(ctx context.Context, batchID string) ([]blob.Info, error) {
	var out []blob.Info
	err := s.run(ctx, opListExports, &opScope{entityID: batchID}, func(ctx context.Context) error {
		if s.archive == nil {
			return ErrNoArchive
		}
		if _, _, err := s.snapshot(ctx, batchID); err != nil {
			return err
		}
		infos, err := s.archive.List(ctx, "ledgers/"+batchID+"/")
		if err != nil {
			return fmt.Errorf("list exports of %s: %w", batchID, err)
		}
		out = infos
		return nil
	})
	return out, err
}
