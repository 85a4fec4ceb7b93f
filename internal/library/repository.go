package library

import (
	"context"
	"database/sql"
	"time"
)

const (
	KindLivePhoto = "livephoto"
	KindGIF       = "gif"
	KindVideo     = "video"
)

// Asset is one row of the library index.
type Asset struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	BaseName          string    `json:"base_name"`
	ImagePath         string    `json:"image_path,omitempty"`
	VideoPath         string    `json:"video_path,omitempty"`
	ContentIdentifier string    `json:"content_identifier,omitempty"`
	StillImageTime    int       `json:"still_image_time"`
	CapturedAt        time.Time `json:"captured_at"`
	Latitude          *float64  `json:"latitude,omitempty"`
	Longitude         *float64  `json:"longitude,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type Repository interface {
	CreateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context, limit int) ([]*Asset, error)
	CountAssets(ctx context.Context) (int, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const assetColumns = `id, kind, base_name, image_path, video_path, content_identifier,
	still_image_time, captured_at, latitude, longitude, created_at`

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Kind, a.BaseName, nullString(a.ImagePath), nullString(a.VideoPath),
		nullString(a.ContentIdentifier), a.StillImageTime,
		a.CapturedAt.UTC().Format(time.RFC3339), nullFloat(a.Latitude), nullFloat(a.Longitude),
		a.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAssets returns the newest captures first.
func (r *SQLiteRepository) ListAssets(ctx context.Context, limit int) ([]*Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+assetColumns+`
		FROM assets ORDER BY captured_at DESC, created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *SQLiteRepository) CountAssets(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (*Asset, error) {
	var a Asset
	var imagePath, videoPath, contentID sql.NullString
	var lat, lon sql.NullFloat64
	var capturedAt, createdAt string

	err := s.Scan(&a.ID, &a.Kind, &a.BaseName, &imagePath, &videoPath, &contentID,
		&a.StillImageTime, &capturedAt, &lat, &lon, &createdAt)
	if err != nil {
		return nil, err
	}

	a.ImagePath = imagePath.String
	a.VideoPath = videoPath.String
	a.ContentIdentifier = contentID.String
	if lat.Valid && lon.Valid {
		a.Latitude = &lat.Float64
		a.Longitude = &lon.Float64
	}
	a.CapturedAt, _ = time.Parse(time.RFC3339, capturedAt)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
