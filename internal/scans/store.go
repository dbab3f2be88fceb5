package scans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/scanhub/internal/database/models"
	"gorm.io/gorm"
)

// Changes is a partial update applied by Store.Update. Zero fields are left
// untouched.
type Changes struct {
	Status       Status
	Results      json.RawMessage
	ErrorKind    ErrorKind
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// ListOptions filters and pages ListByOwner.
type ListOptions struct {
	Status   Status
	ScanType ScanType
	Limit    int
	Offset   int
}

// Store persists scan records. It holds no lifecycle logic: Update only
// applies the change when the stored status still equals expect, which is
// what keeps per-record writes ordered.
type Store interface {
	Create(ctx context.Context, rec *Record) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, id uuid.UUID, expect Status, ch Changes) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, opts ListOptions) ([]Record, int64, error)
	ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]Record, error)
}

// Sealer encrypts results at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// GormStore implements Store on gorm (Postgres in production, SQLite in tests).
type GormStore struct {
	db     *gorm.DB
	sealer Sealer
}

// NewGormStore creates a store. A nil sealer stores results in plaintext.
func NewGormStore(db *gorm.DB, sealer Sealer) *GormStore {
	return &GormStore{db: db, sealer: sealer}
}

func (s *GormStore) Create(ctx context.Context, rec *Record) (uuid.UUID, error) {
	row, err := s.toModel(rec)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("creating scan: %w", err)
	}
	rec.ID = row.ID
	rec.CreatedAt = row.CreatedAt
	return row.ID, nil
}

func (s *GormStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var row models.Scan
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return s.fromModel(&row)
}

func (s *GormStore) Update(ctx context.Context, id uuid.UUID, expect Status, ch Changes) error {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if ch.Status != "" {
		updates["status"] = ch.Status
	}
	if len(ch.Results) > 0 {
		data, sealed, err := s.seal(ch.Results)
		if err != nil {
			return err
		}
		updates["results"] = data
		updates["results_sealed"] = sealed
	}
	if ch.ErrorKind != "" {
		updates["error_kind"] = string(ch.ErrorKind)
	}
	if ch.ErrorMessage != "" {
		updates["error_message"] = ch.ErrorMessage
	}
	if ch.StartedAt != nil {
		updates["started_at"] = *ch.StartedAt
	}
	if ch.CompletedAt != nil {
		updates["completed_at"] = *ch.CompletedAt
	}

	res := s.db.WithContext(ctx).
		Model(&models.Scan{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating scan: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Scan{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("checking scan: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *GormStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, opts ListOptions) ([]Record, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Scan{}).Where("owner_id = ?", ownerID)
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.ScanType != "" {
		query = query.Where("scan_type = ?", opts.ScanType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting scans: %w", err)
	}

	query = query.Order("created_at DESC").Order("id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var rows []models.Scan
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("listing scans: %w", err)
	}

	records, err := s.fromModels(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *GormStore) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]Record, error) {
	var rows []models.Scan
	query := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", StatusRunning, startedBefore).
		Order("started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing stale scans: %w", err)
	}
	return s.fromModels(rows)
}

func (s *GormStore) seal(results json.RawMessage) ([]byte, bool, error) {
	if s.sealer == nil {
		return []byte(results), false, nil
	}
	data, err := s.sealer.Seal(results)
	if err != nil {
		return nil, false, fmt.Errorf("sealing results: %w", err)
	}
	return data, true, nil
}

func (s *GormStore) toModel(rec *Record) (*models.Scan, error) {
	opts, err := json.Marshal(rec.Options)
	if err != nil {
		return nil, fmt.Errorf("encoding options: %w", err)
	}
	row := &models.Scan{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		Target:       rec.Target,
		ScanType:     rec.ScanType,
		Status:       rec.Status,
		Options:      string(opts),
		ErrorKind:    string(rec.ErrorKind),
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}
	if len(rec.Results) > 0 {
		if row.Results, row.ResultsSealed, err = s.seal(rec.Results); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (s *GormStore) fromModel(row *models.Scan) (*Record, error) {
	rec := &Record{
		ID:           row.ID,
		OwnerID:      row.OwnerID,
		Target:       row.Target,
		ScanType:     row.ScanType,
		Status:       row.Status,
		ErrorKind:    ErrorKind(row.ErrorKind),
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    row.CreatedAt,
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
	}
	if row.Options != "" {
		if err := json.Unmarshal([]byte(row.Options), &rec.Options); err != nil {
			return nil, fmt.Errorf("decoding options of scan %s: %w", row.ID, err)
		}
	}
	if len(row.Results) > 0 {
		results := row.Results
		if row.ResultsSealed {
			if s.sealer == nil {
				return nil, fmt.Errorf("scan %s has sealed results and no key is configured", row.ID)
			}
			opened, err := s.sealer.Open(row.Results)
			if err != nil {
				return nil, fmt.Errorf("opening results of scan %s: %w", row.ID, err)
			}
			results = opened
		}
		rec.Results = json.RawMessage(results)
	}
	return rec, nil
}

func (s *GormStore) fromModels(rows []models.Scan) ([]Record, error) {
	records := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := s.fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}
