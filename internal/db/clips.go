package db

import (
	"context"

	"github.com/clipforge/clipforge/internal/models"
	"github.com/google/uuid"
)

// The clips table is owned by the product layer; the pipeline only updates
// the rendering status columns. This is the persisted-status sink contract.

// ClipStatusFields carries the optional columns written alongside a status.
type ClipStatusFields struct {
	OutputKey    *string
	OutputURL    *string
	ThumbnailKey *string
	ThumbnailURL *string
	ErrorMessage *string
}

// UpdateClipStatus persists an intermediate or terminal clip status. Absent
// fields are left untouched via COALESCE so a `generating` update does not
// wipe locators from a previous successful render.
func (db *DB) UpdateClipStatus(ctx context.Context, clipID uuid.UUID, status models.ClipStatus, fields ClipStatusFields) error {
	query := `
		UPDATE clips
		SET render_status = $1,
		    output_key = COALESCE($2, output_key),
		    output_url = COALESCE($3, output_url),
		    thumbnail_key = COALESCE($4, thumbnail_key),
		    thumbnail_url = COALESCE($5, thumbnail_url),
		    render_error = $6,
		    updated_at = NOW()
		WHERE id = $7
	`
	_, err := db.ExecContext(ctx, query,
		status, fields.OutputKey, fields.OutputURL,
		fields.ThumbnailKey, fields.ThumbnailURL, fields.ErrorMessage, clipID,
	)
	return err
}
