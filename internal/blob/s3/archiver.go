package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
)

// ArchiveStore is the store subset the archiver needs: closed positions and
// their sell ledgers.
type ArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
	ListSells(ctx context.Context, address string) ([]domain.SellRecord, error)
}

// multipartWriter is the optional upgrade a BlobWriter may offer for large
// payloads.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// multipartThreshold is the payload size above which the archiver switches
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// archivedPosition is one JSONL line in an archive file: the closed position
// together with its complete sell ledger.
type archivedPosition struct {
	Position domain.Position     `json:"position"`
	Sells    []domain.SellRecord `json:"sells"`
}

// ArchiveImpl implements domain.Archiver: it queries positions closed before
// a cutoff, serializes each with its sell ledger to JSONL, and uploads the
// result to S3 partitioned by year-month.
//
// Deletion of archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step after the archive has
// been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	store  ArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, store ArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, store: store}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveClosed archives every position closed strictly before the cutoff to
// archive/positions/YYYY-MM.jsonl and returns the number archived.
func (a *ArchiveImpl) ArchiveClosed(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.store.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	records := make([]archivedPosition, 0, len(positions))
	for _, pos := range positions {
		sells, sellErr := a.store.ListSells(ctx, pos.Address)
		if sellErr != nil {
			return 0, fmt.Errorf("s3blob: archive ledger for %s: %w", pos.Address, sellErr)
		}
		records = append(records, archivedPosition{Position: pos, Sells: sells})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath("positions", before)
	if mp, ok := a.writer.(multipartWriter); ok && int64(len(buf)) >= multipartThreshold {
		if err := mp.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
			return 0, fmt.Errorf("s3blob: archive multipart upload: %w", err)
		}
		return int64(len(records)), nil
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return int64(len(records)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
