package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// ArchiveImpl implements domain.Archiver by serializing terminal execution
// contexts and aged audit entries to the object store.
//
// Deletion of archived audit rows from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, audit: audit}
}

// ArchiveExecution uploads one terminal execution context, transaction
// records included, as a JSON document at
// archive/executions/YYYY-MM/{execution_id}.json. It returns the object key.
func (a *ArchiveImpl) ArchiveExecution(ctx context.Context, ec domain.ExecutionContext) (string, error) {
	if !ec.Status.Terminal() {
		return "", fmt.Errorf("s3blob: archive execution %s: status %s: %w",
			ec.ExecutionID, ec.Status, domain.ErrInvalidState)
	}

	buf, err := json.MarshalIndent(ec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive execution marshal: %w", err)
	}

	path := fmt.Sprintf("archive/executions/%s/%s.json",
		ec.StartedAt.Format("2006-01"), ec.ExecutionID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive execution upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.execution", map[string]any{
		"path":         path,
		"execution_id": ec.ExecutionID,
		"plan_id":      ec.PlanID,
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive execution audit log: %w", err)
	}

	return path, nil
}

// ArchiveAuditLog queries all audit entries before the cutoff, serializes
// them to JSONL, and uploads the file at archive/audit/YYYY-MM.jsonl. The
// count of archived records is returned.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := fmt.Sprintf("archive/audit/%s.jsonl", before.Format("2006-01"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit_log", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log entry: %w", err)
	}

	return count, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
