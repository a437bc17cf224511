package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
	"fridgeclinic/internal/redis"
	"fridgeclinic/internal/storage"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	rowCacheSize = 256
	rowCacheTTL  = 30 * time.Minute

	invalidateChannel = "fridgeclinic:diagnosis:invalidate"
)

const diagnosisColumns = `id, video_id, file_name, video_url, user_description, brand, model, refrigerator_type,
	issue_category, severity_level, diagnosis_result, solutions, audio_summary, ai_model, created_at`

// Service stores diagnoses and the remote files awaiting deletion. With redis
// configured, single-row reads go through an in-process LRU and then redis;
// deletes are broadcast so every replica drops its LRU entry. Without redis
// there is no way to reach other replicas, so rows are always read from the
// database.
type Service struct {
	db     *storage.DB
	rdb    *redis.Client
	cache  *expirable.LRU[string, models.Diagnosis]
	origin string
	now    func() time.Time
}

type invalidateMessage struct {
	DiagnosisID string `json:"diagnosis_id"`
	Origin      string `json:"origin"`
}

func NewService(db *storage.DB, rdb *redis.Client) (*Service, error) {
	if db == nil {
		return nil, errors.New("history: db required")
	}
	s := &Service{db: db, rdb: rdb, origin: uuid.NewString(), now: time.Now}
	if rdb.Enabled() {
		s.cache = expirable.NewLRU[string, models.Diagnosis](rowCacheSize, nil, rowCacheTTL)
	}
	return s, nil
}

// Insert persists d under a fresh id and returns the stored copy.
func (s *Service) Insert(ctx context.Context, d *models.Diagnosis) (*models.Diagnosis, error) {
	if d == nil {
		return nil, errors.New("diagnosis required")
	}
	row := *d
	row.ID = uuid.NewString()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}
	var desc any
	if row.UserDescription != "" {
		desc = row.UserDescription
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refrigerator_diagnoses (`+diagnosisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.VideoID, row.FileName, row.VideoURL, desc, row.Brand, row.Model, row.RefrigeratorType,
		row.IssueCategory, row.SeverityLevel, row.DiagnosisResult, row.Solutions, row.AudioSummary, row.AIModel, row.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert diagnosis: %v", faults.ErrPersistence, err)
	}
	s.remember(row)
	return &row, nil
}

// List returns diagnoses newest first.
func (s *Service) List(ctx context.Context, filter models.DiagnosisFilter) ([]models.Diagnosis, error) {
	var (
		where []string
		args  []any
	)
	if b := strings.TrimSpace(filter.Brand); b != "" {
		where = append(where, "brand = ?")
		args = append(args, b)
	}
	if c := strings.TrimSpace(filter.IssueCategory); c != "" {
		where = append(where, "issue_category = ?")
		args = append(args, c)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + diagnosisColumns + ` FROM refrigerator_diagnoses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list diagnoses: %w", err)
	}
	defer rows.Close()

	diagnoses := make([]models.Diagnosis, 0)
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		diagnoses = append(diagnoses, *d)
	}
	return diagnoses, rows.Err()
}

// Get returns one diagnosis or faults.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*models.Diagnosis, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: diagnosis id required", faults.ErrNotFound)
	}
	if s.cache != nil {
		if d, ok := s.cache.Get(id); ok {
			return &d, nil
		}
	}
	if d, ok := s.loadCached(ctx, id); ok {
		s.remember(*d)
		return d, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+diagnosisColumns+` FROM refrigerator_diagnoses WHERE id = ?`, id)
	d, err := scanDiagnosis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: diagnosis %s", faults.ErrNotFound, id)
		}
		return nil, err
	}
	s.remember(*d)
	s.storeCached(ctx, d)
	return d, nil
}

// Delete removes a diagnosis together with its conversations.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refrigerator_diagnoses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete diagnosis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("diagnosis rows affected: %w", err)
	}
	s.invalidate(ctx, id)
	if affected == 0 {
		return fmt.Errorf("%w: diagnosis %s", faults.ErrNotFound, id)
	}
	slog.Info("diagnosis deleted", "diagnosis_id", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDiagnosis(row scanner) (*models.Diagnosis, error) {
	var (
		d    models.Diagnosis
		desc sql.NullString
	)
	err := row.Scan(&d.ID, &d.VideoID, &d.FileName, &d.VideoURL, &desc, &d.Brand, &d.Model, &d.RefrigeratorType,
		&d.IssueCategory, &d.SeverityLevel, &d.DiagnosisResult, &d.Solutions, &d.AudioSummary, &d.AIModel, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan diagnosis: %w", err)
	}
	d.UserDescription = desc.String
	return &d, nil
}

func cacheKey(id string) string {
	return "fridgeclinic:diagnosis:" + id
}

func (s *Service) loadCached(ctx context.Context, id string) (*models.Diagnosis, bool) {
	if !s.rdb.Enabled() {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, cacheKey(id))
	if err != nil {
		if err != redis.ErrCacheMiss {
			slog.Warn("diagnosis cache read failed", "diagnosis_id", id, "error", err)
		}
		return nil, false
	}
	var d models.Diagnosis
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		slog.Warn("diagnosis cache decode failed", "diagnosis_id", id, "error", err)
		return nil, false
	}
	return &d, true
}

func (s *Service) storeCached(ctx context.Context, d *models.Diagnosis) {
	if !s.rdb.Enabled() {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(d.ID), data, rowCacheTTL); err != nil {
		slog.Warn("diagnosis cache write failed", "diagnosis_id", d.ID, "error", err)
	}
}

func (s *Service) remember(d models.Diagnosis) {
	if s.cache != nil {
		s.cache.Add(d.ID, d)
	}
}

func (s *Service) forget(id string) {
	if s.cache != nil {
		s.cache.Remove(id)
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	s.forget(id)
	if !s.rdb.Enabled() {
		return
	}
	if err := s.rdb.Del(ctx, cacheKey(id)); err != nil {
		slog.Warn("diagnosis cache invalidate failed", "diagnosis_id", id, "error", err)
	}
	payload, err := json.Marshal(invalidateMessage{DiagnosisID: id, Origin: s.origin})
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, invalidateChannel, payload); err != nil {
		slog.Warn("diagnosis publish invalidation failed", "diagnosis_id", id, "error", err)
	}
}

// Listen drops rows deleted on other replicas from the local cache until ctx
// is done. Without redis it just waits.
func (s *Service) Listen(ctx context.Context) error {
	if !s.rdb.Enabled() {
		<-ctx.Done()
		return nil
	}
	pubsub := s.rdb.Raw().Subscribe(ctx, invalidateChannel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				slog.Warn("diagnosis invalidation decode failed", "error", err)
				continue
			}
			if inv.Origin == s.origin {
				continue
			}
			s.forget(inv.DiagnosisID)
		}
	}
}
