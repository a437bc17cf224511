package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fridgeclinic/internal/config"
	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *GeminiGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewGeminiGenerator(context.Background(), config.RemoteFilesConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		HTTPTimeoutSec: 5,
	}, "gemini-test")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return g
}

func TestGenerateSendsFileAndPrompt(t *testing.T) {
	var body string
	var path string
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": "  The compressor relay clicks.  "}},
				},
			}},
		})
	})

	out, err := g.Generate(context.Background(), models.RemoteFileHandle{
		URI:      "https://files.test/files/abc",
		Name:     "files/abc",
		MimeType: "video/mp4",
	}, "Summarise the audio.")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "The compressor relay clicks." {
		t.Fatalf("unexpected text %q", out)
	}
	if !strings.Contains(path, "gemini-test:generateContent") {
		t.Fatalf("unexpected path %q", path)
	}
	for _, want := range []string{"https://files.test/files/abc", "video/mp4", "Summarise the audio."} {
		if !strings.Contains(body, want) {
			t.Fatalf("request body missing %q: %s", want, body)
		}
	}
}

func TestGenerateEmptyAnswerFails(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"   "}]}}]}`)
	})
	_, err := g.Generate(context.Background(), models.RemoteFileHandle{URI: "u", MimeType: "video/mp4"}, "p")
	if !errors.Is(err, faults.ErrGenerationFailed) {
		t.Fatalf("expected generation failure, got %v", err)
	}
}

func TestGenerateRejectedRequestFails(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"bad file","status":"INVALID_ARGUMENT"}}`)
	})
	_, err := g.Generate(context.Background(), models.RemoteFileHandle{URI: "u", MimeType: "video/mp4"}, "p")
	if !errors.Is(err, faults.ErrGenerationFailed) {
		t.Fatalf("expected generation failure, got %v", err)
	}
}

func TestGeneratorWithoutKeyIsNotConfigured(t *testing.T) {
	g, err := NewGeminiGenerator(context.Background(), config.RemoteFilesConfig{APIKey: "your_gemini_api_key"}, "")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if g.Model() != config.DefaultDiagnosisModel {
		t.Fatalf("unexpected default model %q", g.Model())
	}
	if _, err := g.Generate(context.Background(), models.RemoteFileHandle{}, "p"); !errors.Is(err, faults.ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}
