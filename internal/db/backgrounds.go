package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clipforge/clipforge/internal/models"
	"github.com/google/uuid"
)

// Background assets are catalogued by an offline process; the pipeline only
// reads them at render time.

func (db *DB) GetBackgroundAsset(ctx context.Context, id uuid.UUID) (*models.BackgroundAsset, error) {
	query := `
		SELECT id, name, storage_key, duration_sec, width, height, created_at
		FROM background_assets
		WHERE id = $1
	`

	asset := &models.BackgroundAsset{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&asset.ID, &asset.Name, &asset.StorageKey, &asset.DurationSec,
		&asset.Width, &asset.Height, &asset.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("background asset not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get background asset: %w", err)
	}

	return asset, nil
}

func (db *DB) ListBackgroundAssets(ctx context.Context) ([]models.BackgroundAsset, error) {
	query := `
		SELECT id, name, storage_key, duration_sec, width, height, created_at
		FROM background_assets
		ORDER BY name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query background assets: %w", err)
	}
	defer rows.Close()

	var assets []models.BackgroundAsset
	for rows.Next() {
		var asset models.BackgroundAsset
		err := rows.Scan(
			&asset.ID, &asset.Name, &asset.StorageKey, &asset.DurationSec,
			&asset.Width, &asset.Height, &asset.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan background asset: %w", err)
		}
		assets = append(assets, asset)
	}

	return assets, nil
}
