package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/outcomelabs/settle/internal/domain"
)

// multipartThreshold is the snapshot size above which the multipart
// uploader is used instead of a single PutObject.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.Archiver by serializing a market snapshot to
// JSON and uploading it to the object store. Pruning deletes the primary
// rows only after the upload succeeds, so a failed upload aborts the prune.
type Archiver struct {
	writer *Writer
	prefix string
}

// NewArchiver creates an Archiver that writes snapshots under the given key
// prefix ("archive" when empty).
func NewArchiver(writer *Writer, prefix string) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{writer: writer, prefix: prefix}
}

// ArchiveMarket uploads the snapshot and returns the object key it was
// written to. Keys are partitioned by the prune year-month so retention
// policies can act on whole months:
//
//	archive/2026-08/market-42.json
func (a *Archiver) ArchiveMarket(ctx context.Context, snapshot domain.ArchivedMarket) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snapshot); err != nil {
		return "", fmt.Errorf("s3blob: marshal market %d snapshot: %w", snapshot.Market.ID, err)
	}

	path := fmt.Sprintf("%s/%s/market-%d.json",
		a.prefix, snapshot.PrunedAt.Format("2006-01"), snapshot.Market.ID)

	var err error
	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, &buf, "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %d: %w", snapshot.Market.ID, err)
	}
	return path, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
