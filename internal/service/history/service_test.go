package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fridgeclinic/internal/config"
	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
	"fridgeclinic/internal/redis"
	"fridgeclinic/internal/storage"
)

func setupService(t *testing.T, rdb *redis.Client) *Service {
	t.Helper()
	return setupServiceOn(t, ":memory:", rdb)
}

func setupServiceOn(t *testing.T, dsn string, rdb *redis.Client) *Service {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: dsn},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	svc, err := NewService(db, rdb)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func sampleDiagnosis(brand, category string, at time.Time) *models.Diagnosis {
	return &models.Diagnosis{
		VideoID:          "videos/fridge1.mp4",
		FileName:         "fridge1.mp4",
		VideoURL:         "s3://videos/fridge1.mp4",
		Brand:            brand,
		Model:            "Unable to determine",
		RefrigeratorType: "French Door",
		IssueCategory:    category,
		SeverityLevel:    "Minor Fix",
		DiagnosisResult:  "report",
		Solutions:        "steps",
		AudioSummary:     "summary",
		AIModel:          "gemini-2.0-flash-001",
		CreatedAt:        at,
	}
}

func TestInsertGetDelete(t *testing.T) {
	svc := setupService(t, nil)
	ctx := context.Background()

	in := sampleDiagnosis("LG", "Cooling/Temperature Issues", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	in.UserDescription = "too warm"
	saved, err := svc.Insert(ctx, in)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if saved.ID == "" || in.ID != "" {
		t.Fatalf("insert must assign an id on the copy only: saved=%q in=%q", saved.ID, in.ID)
	}

	if svc.cache != nil {
		t.Fatalf("row cache must stay off without redis")
	}
	got, err := svc.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Brand != "LG" || got.UserDescription != "too warm" || !got.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("unexpected row %+v", got)
	}

	if err := svc.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, saved.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := svc.Delete(ctx, saved.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListNewestFirstWithFilters(t *testing.T) {
	svc := setupService(t, nil)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	rows := []*models.Diagnosis{
		sampleDiagnosis("LG", "Cooling/Temperature Issues", base),
		sampleDiagnosis("Samsung", "Ice Making Problems", base.Add(time.Hour)),
		sampleDiagnosis("LG", "Ice Making Problems", base.Add(2*time.Hour)),
	}
	for _, r := range rows {
		if _, err := svc.Insert(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := svc.List(ctx, models.DiagnosisFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("rows not newest first: %v then %v", all[i-1].CreatedAt, all[i].CreatedAt)
		}
	}

	lg, err := svc.List(ctx, models.DiagnosisFilter{Brand: "LG"})
	if err != nil {
		t.Fatalf("list by brand: %v", err)
	}
	if len(lg) != 2 {
		t.Fatalf("expected 2 LG rows, got %d", len(lg))
	}

	page, err := svc.List(ctx, models.DiagnosisFilter{IssueCategory: "Ice Making Problems", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].Brand != "Samsung" {
		t.Fatalf("unexpected page %+v", page)
	}

	empty, err := svc.List(ctx, models.DiagnosisFilter{Brand: "Bosch"})
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestDeleteCascadesConversations(t *testing.T) {
	svc := setupService(t, nil)
	ctx := context.Background()
	saved, err := svc.Insert(ctx, sampleDiagnosis("LG", "Door Problems", time.Now().UTC()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	now := time.Now().UTC()
	if _, err := svc.db.ExecContext(ctx,
		`INSERT INTO chat_conversations (id, diagnosis_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"c1", saved.ID, "LG - Door Problems", now, now); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if err := svc.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var n int
	if err := svc.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_conversations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("conversations should cascade, %d left", n)
	}
}

func TestGetUsesRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("set TEST_REDIS_URL to run redis-backed tests")
	}
	rdb, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Enabled: true, URL: url}})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := setupService(t, rdb)
	ctx := context.Background()
	saved, err := svc.Insert(ctx, sampleDiagnosis("Whirlpool", "Noise Issues", time.Now().UTC()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	svc.cache.Purge()
	if _, err := svc.Get(ctx, saved.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := svc.loadCached(ctx, saved.ID); !ok {
		t.Fatalf("expected row in redis after read")
	}
	if err := svc.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := svc.loadCached(ctx, saved.ID); ok {
		t.Fatalf("expected redis entry invalidated")
	}
}

func TestDeleteVisibleToOtherReplica(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "fridgeclinic.db")
	a := setupServiceOn(t, dsn, nil)
	b := setupServiceOn(t, dsn, nil)
	ctx := context.Background()

	saved, err := a.Insert(ctx, sampleDiagnosis("Frigidaire", "Water Leaks", time.Now().UTC()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := b.Get(ctx, saved.ID); err != nil {
		t.Fatalf("get on second replica: %v", err)
	}
	if err := a.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, saved.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("second replica still serves deleted diagnosis, got %v", err)
	}
}

func TestDeleteInvalidatesOtherReplicaCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("set TEST_REDIS_URL to run redis-backed tests")
	}
	newClient := func() *redis.Client {
		rdb, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Enabled: true, URL: url}})
		if err != nil {
			t.Fatalf("redis: %v", err)
		}
		t.Cleanup(func() { rdb.Close() })
		return rdb
	}
	dsn := filepath.Join(t.TempDir(), "fridgeclinic.db")
	a := setupServiceOn(t, dsn, newClient())
	b := setupServiceOn(t, dsn, newClient())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Listen(ctx)
	// give the subscription a moment to register
	time.Sleep(100 * time.Millisecond)

	saved, err := a.Insert(ctx, sampleDiagnosis("Bosch", "Noise Issues", time.Now().UTC()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := b.Get(ctx, saved.ID); err != nil {
		t.Fatalf("get on second replica: %v", err)
	}
	if _, ok := b.cache.Get(saved.ID); !ok {
		t.Fatalf("expected row cached on second replica")
	}
	if err := a.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := b.Get(ctx, saved.ID)
		if errors.Is(err, faults.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second replica still serves deleted diagnosis, got %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type fakeDeleter struct {
	mu     sync.Mutex
	errs   map[string]error
	called []string
}

func (f *fakeDeleter) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, name)
	return f.errs[name]
}

func TestRecordOrphanBumpsAttempts(t *testing.T) {
	svc := setupService(t, nil)
	ctx := context.Background()
	if err := svc.RecordOrphan(ctx, "files/a", errors.New("503")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.RecordOrphan(ctx, "files/a", errors.New("timeout")); err != nil {
		t.Fatalf("record again: %v", err)
	}
	orphans, err := svc.ListOrphans(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orphans) != 1 || orphans[0].Attempts != 2 || orphans[0].LastError != "timeout" {
		t.Fatalf("unexpected orphans %+v", orphans)
	}
}

func TestSweepOnce(t *testing.T) {
	svc := setupService(t, nil)
	ctx := context.Background()
	base := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base.Add(-72 * time.Hour) }
	if err := svc.RecordOrphan(ctx, "files/old", errors.New("503")); err != nil {
		t.Fatalf("record old: %v", err)
	}
	svc.now = func() time.Time { return base }
	for _, name := range []string{"files/ok", "files/down", "files/gone"} {
		if err := svc.RecordOrphan(ctx, name, errors.New("503")); err != nil {
			t.Fatalf("record %s: %v", name, err)
		}
	}

	deleter := &fakeDeleter{errs: map[string]error{
		"files/down": fmt.Errorf("%w: 503", faults.ErrTransport),
		"files/gone": fmt.Errorf("%w: files/gone", faults.ErrNotFound),
	}}
	sweeper := NewSweeper(svc, deleter, time.Minute, 48*time.Hour)

	dropped, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", dropped)
	}
	for _, name := range deleter.called {
		if name == "files/old" {
			t.Fatalf("expired orphan must not be retried")
		}
	}
	left, err := svc.ListOrphans(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].Name != "files/down" || left[0].Attempts != 2 {
		t.Fatalf("unexpected remaining orphans %+v", left)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	svc := setupService(t, nil)
	sweeper := NewSweeper(svc, &fakeDeleter{}, 10*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
