package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fridgeclinic/internal/config"
	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

func TestSearchBudgetPerConversation(t *testing.T) {
	b := newSearchBudget(2, time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if !b.Allow("a") || !b.Allow("a") {
		t.Fatalf("first two calls should pass")
	}
	if b.Allow("a") {
		t.Fatalf("third call should exceed the budget")
	}
	if !b.Allow("b") {
		t.Fatalf("conversations must have separate budgets")
	}
	now = now.Add(31 * time.Second)
	if !b.Allow("a") {
		t.Fatalf("budget should refill over the window")
	}
}

func TestApplianceFromDiagnosis(t *testing.T) {
	a := ApplianceFromDiagnosis("conv-1", &models.Diagnosis{
		Brand:         "Samsung",
		Model:         "Unable to determine",
		IssueCategory: " Ice Maker Issues ",
	})
	if a.ConversationID != "conv-1" || a.Brand != "Samsung" || a.Model != "" || a.IssueCategory != "Ice Maker Issues" {
		t.Fatalf("unexpected appliance %+v", a)
	}

	if _, ok := ApplianceFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry an appliance")
	}
	got, ok := ApplianceFromContext(WithAppliance(context.Background(), a))
	if !ok || got != a {
		t.Fatalf("unexpected appliance from context %+v %v", got, ok)
	}
}

func TestBuildSearchQuery(t *testing.T) {
	lg := Appliance{Brand: "LG", Model: "LRMVS3006S", IssueCategory: "Water Leaks"}
	cases := []struct {
		name  string
		kind  string
		query string
		a     Appliance
		want  string
	}{
		{"part", SearchPart, "water inlet valve", lg, "LG LRMVS3006S refrigerator water inlet valve replacement part number"},
		{"manual", SearchManual, "defrost cycle", lg, "LG LRMVS3006S refrigerator defrost cycle service manual"},
		{"bulletin", SearchBulletin, "drain line freezing", lg, "LG LRMVS3006S refrigerator Water Leaks drain line freezing service bulletin recall"},
		{"brand already named", SearchPart, "lg fridge door gasket", lg, "LRMVS3006S lg fridge door gasket replacement part number"},
		{"unknown appliance", SearchGeneral, "why is my fridge humming", Appliance{}, "why is my fridge humming"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildSearchQuery(tc.kind, tc.query, tc.a); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
	if normalizeKind(" PART ") != SearchPart || normalizeKind("prices") != SearchGeneral {
		t.Fatalf("unexpected kind normalisation")
	}
}

func TestConvertMessagesRoles(t *testing.T) {
	got := convertMessages([]models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: "tool", Content: "?"},
	})
	want := []schema.RoleType{schema.System, schema.User, schema.Assistant, schema.User}
	for i, m := range got {
		if m.Role != want[i] {
			t.Fatalf("message %d role = %s, want %s", i, m.Role, want[i])
		}
	}
}

func TestServiceWithoutKeyIsNotConfigured(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{"gemini": {APIKey: "your_gemini_api_key"}},
		Chat:      config.ChatConfig{Provider: "gemini"},
	}
	svc, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Available() {
		t.Fatalf("service without key must not be available")
	}
	if svc.Model() != "gemini-2.0-flash-001" {
		t.Fatalf("unexpected default model %q", svc.Model())
	}
	_, err = svc.Reply(context.Background(), "c1", []models.Message{{Role: models.RoleUser, Content: "hi"}}, nil)
	if !errors.Is(err, faults.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestServiceRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{Chat: config.ChatConfig{Provider: "bard"}}
	if _, err := NewService(context.Background(), cfg); err == nil {
		t.Fatalf("expected invalid provider error")
	}
}

type stubTool struct {
	name     string
	result   string
	err      error
	calls    int
	lastArgs string
}

func (s *stubTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: s.name}, nil
}

func (s *stubTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	s.calls++
	s.lastArgs = argumentsInJSON
	return s.result, s.err
}

func TestApplianceSearchFallsBackAndLimits(t *testing.T) {
	google := &stubTool{name: "google", err: errors.New("quota")}
	duck := &stubTool{name: "duck", result: "defrost heater part DA47-00244W"}
	s := &applianceSearch{google: google, duck: duck, budget: newSearchBudget(1, time.Minute)}
	ctx := WithAppliance(context.Background(), Appliance{ConversationID: "conv-9", Brand: "Samsung", Model: "RF28R7351SR"})

	got, err := s.run(ctx, &applianceSearchParams{Kind: SearchPart, Query: "defrost heater"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(got, "DA47") || google.calls != 1 || duck.calls != 1 {
		t.Fatalf("expected fallback to duckduckgo, got %q", got)
	}
	if !strings.Contains(duck.lastArgs, "Samsung RF28R7351SR refrigerator defrost heater replacement part number") {
		t.Fatalf("search did not carry the appliance: %s", duck.lastArgs)
	}
	if _, err := s.run(ctx, &applianceSearchParams{Query: "again"}); err == nil {
		t.Fatalf("second call should exceed the conversation budget")
	}
	other := WithAppliance(context.Background(), Appliance{ConversationID: "conv-10"})
	if _, err := s.run(other, &applianceSearchParams{Query: "other"}); err != nil {
		t.Fatalf("other conversation should not be limited: %v", err)
	}
	if _, err := s.run(ctx, &applianceSearchParams{Query: "  "}); err == nil {
		t.Fatalf("empty query must fail")
	}
}

func TestApplianceSearchReadsManualPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manual":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, `<html><head><title>LRMVS3006S Service Manual</title><script>var x = 1;</script></head>
<body><nav>Home | Shop</nav>
<h2>Defrost heater test</h2>
<p>Measure the defrost heater resistance between 30 and 40 ohms.</p>
<p>Our newsletter has great deals.</p>
<footer>Copyright</footer></body></html>`)
		case "/catalog.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, "%PDF-1.4")
		}
	}))
	defer srv.Close()

	s := &applianceSearch{budget: newSearchBudget(5, time.Minute)}
	ctx := WithAppliance(context.Background(), Appliance{ConversationID: "conv-1", Model: "LRMVS3006S"})
	got, err := s.run(ctx, &applianceSearchParams{Kind: SearchManual, Query: "defrost heater", URL: srv.URL + "/manual"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "LRMVS3006S Service Manual\nDefrost heater test\nMeasure the defrost heater resistance between 30 and 40 ohms."
	if got != want {
		t.Fatalf("unexpected page text %q", got)
	}

	if _, err := s.readPage(ctx, srv.URL+"/catalog.pdf", nil); err == nil {
		t.Fatalf("non-text pages must be rejected")
	}
	if _, err := s.run(ctx, &applianceSearchParams{Kind: SearchBulletin, Query: "recall", URL: srv.URL + "/manual"}); err == nil {
		t.Fatalf("urls are only read for part and manual lookups")
	}
}

func TestRelevantTextFallsBackAndCaps(t *testing.T) {
	blocks := []string{"Welcome", "Shipping info"}
	if got := relevantText(blocks, []string{"compressor"}, 100); got != "Welcome\nShipping info" {
		t.Fatalf("expected opening blocks, got %q", got)
	}
	long := strings.Repeat("compressor ", 20)
	if got := relevantText([]string{long}, []string{"compressor"}, 30); len(got) > 30 {
		t.Fatalf("text must be capped, got %d chars", len(got))
	}
}
