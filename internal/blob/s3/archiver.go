package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trezury/walletsync/internal/domain"
)

// Archiver moves expired balance-snapshot history out of the primary store:
// it pages through rows older than the retention cutoff, serializes each
// batch to JSONL, uploads it to S3, and only then deletes the archived rows.
type Archiver struct {
	writer    domain.BlobWriter
	snapshots domain.SnapshotStore
	batch     int
}

// NewArchiver creates an Archiver. batch bounds how many rows are read and
// uploaded per object.
func NewArchiver(writer domain.BlobWriter, snapshots domain.SnapshotStore, batch int) *Archiver {
	if batch <= 0 {
		batch = 5000
	}
	return &Archiver{
		writer:    writer,
		snapshots: snapshots,
		batch:     batch,
	}
}

// ArchiveBefore archives and deletes all snapshots fetched before the cutoff.
// It returns the number of rows archived. Deletion only happens after every
// batch has been uploaded, so a failed upload leaves the rows in place for
// the next run.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var archived int64

	for part := 0; ; part++ {
		snaps, err := a.snapshots.ListBefore(ctx, cutoff, a.batch)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive query: %w", err)
		}
		if len(snaps) == 0 {
			break
		}

		buf, err := marshalJSONL(snaps)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive marshal: %w", err)
		}

		path := archivePath(cutoff, part)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return archived, fmt.Errorf("s3blob: archive upload: %w", err)
		}

		// Delete what was just uploaded. The batch boundary is the fetched_at
		// of the last row in the page.
		last := snaps[len(snaps)-1].FetchedAt
		deleted, err := a.snapshots.DeleteBefore(ctx, last.Add(time.Millisecond))
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive delete: %w", err)
		}
		archived += deleted

		if len(snaps) < a.batch {
			break
		}
	}

	return archived, nil
}

// archivePath builds the object key for one archived batch, e.g.
// archive/balances/2026-08/part-00003.jsonl.
func archivePath(cutoff time.Time, part int) string {
	return fmt.Sprintf("archive/balances/%s/part-%05d.jsonl", cutoff.UTC().Format("2006-01"), part)
}

// marshalJSONL serializes a slice of snapshots to newline-delimited JSON.
func marshalJSONL(snaps []domain.BalanceSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range snaps {
		if err := enc.Encode(s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
