package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage"
)

// EntryRepo implements the storage.EntryStore boundary on PostgreSQL.
type EntryRepo struct {
	db *DB
}

// NewEntryRepo creates a PostgreSQL entry store.
func NewEntryRepo(db *DB) *EntryRepo {
	return &EntryRepo{db: db}
}

// GetEntryForAnalysis fetches the entry fields the pipeline needs.
func (r *EntryRepo) GetEntryForAnalysis(ctx context.Context, id string) (*domain.Entry, error) {
	var row struct {
		ID              string `db:"id"`
		OwnerID         string `db:"owner_id"`
		Content         string `db:"content"`
		AnalysisAllowed bool   `db:"analysis_allowed"`
	}

	err := r.db.GetContext(ctx, &row, `
		SELECT id, owner_id, content, analysis_allowed
		FROM journal_entries WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return &domain.Entry{
		ID:              row.ID,
		OwnerID:         row.OwnerID,
		Content:         row.Content,
		AnalysisAllowed: row.AnalysisAllowed,
	}, nil
}

// MarkAnalysisResult writes the structured result back onto the entry.
func (r *EntryRepo) MarkAnalysisResult(ctx context.Context, entryID string, result *domain.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE journal_entries
		SET analysis_result = $1, analyzed_at = $2
		WHERE id = $3
	`, payload, result.AnalyzedAt, entryID)
	if err != nil {
		return fmt.Errorf("failed to mark analysis result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
