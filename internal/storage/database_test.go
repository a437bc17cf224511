package storage

import (
	"context"
	"testing"
	"time"

	"fridgeclinic/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRebindPostgresOnly(t *testing.T) {
	pg := &DB{driver: "postgres"}
	got := pg.Rebind(`SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?`)
	want := `SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2`
	if got != want {
		t.Fatalf("Rebind = %q, want %q", got, want)
	}
	lite := &DB{driver: "sqlite3"}
	if q := `SELECT ?`; lite.Rebind(q) != q {
		t.Fatalf("sqlite query must not change")
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestConversationsCascadeWithDiagnosis(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.ExecContext(ctx, `INSERT INTO refrigerator_diagnoses
		(id, video_id, file_name, video_url, brand, model, refrigerator_type, issue_category, severity_level,
		 diagnosis_result, solutions, audio_summary, ai_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"d1", "videos/a.mp4", "a.mp4", "s3://videos/a.mp4", "LG", "X", "Standard", "Cooling", "Minor",
		"report", "fix", "summary", "gemini-2.0-flash-001", now)
	if err != nil {
		t.Fatalf("insert diagnosis: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO chat_conversations (id, diagnosis_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"c1", "d1", "LG", now, now); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO chat_messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		"m1", "c1", "user", "hello", now); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM refrigerator_diagnoses WHERE id = ?`, "d1"); err != nil {
		t.Fatalf("delete diagnosis: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&n); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected messages to cascade, %d left", n)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"oracle": {DSN: "x"}}}
	if _, err := Open("oracle", cfg); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
