package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fridgeclinic/internal/models"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	SearchCallsPerWindow = 3
	SearchWindow         = time.Minute
	SearchHTTPTimeout    = 10 * time.Second

	maxPageBytes = 1 << 20
	maxPageText  = 6000
)

// Appliance is what the tools know about the refrigerator being discussed.
type Appliance struct {
	ConversationID string
	Brand          string
	Model          string
	IssueCategory  string
}

type applianceContextKey struct{}

// ApplianceFromDiagnosis keeps only the fields the diagnosis could actually
// determine.
func ApplianceFromDiagnosis(conversationID string, d *models.Diagnosis) Appliance {
	a := Appliance{ConversationID: conversationID}
	if d == nil {
		return a
	}
	a.Brand = knownValue(d.Brand)
	a.Model = knownValue(d.Model)
	a.IssueCategory = knownValue(d.IssueCategory)
	return a
}

func knownValue(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "unable to determine", "unknown", "n/a", "other":
		return ""
	}
	return v
}

func WithAppliance(ctx context.Context, a Appliance) context.Context {
	return context.WithValue(ctx, applianceContextKey{}, a)
}

func ApplianceFromContext(ctx context.Context) (Appliance, bool) {
	a, ok := ctx.Value(applianceContextKey{}).(Appliance)
	return a, ok
}

// searchBudget hands every conversation its own token bucket.
type searchBudget struct {
	limit rate.Limit
	burst int
	mu    sync.Mutex
	byKey map[string]*rate.Limiter
	now   func() time.Time
}

func newSearchBudget(calls int, window time.Duration) *searchBudget {
	if calls < 1 {
		calls = 1
	}
	return &searchBudget{
		limit: rate.Every(window / time.Duration(calls)),
		burst: calls,
		byKey: make(map[string]*rate.Limiter),
		now:   time.Now,
	}
}

func (b *searchBudget) Allow(conversationID string) bool {
	key := conversationID
	if key == "" {
		key = "anonymous"
	}
	b.mu.Lock()
	l, ok := b.byKey[key]
	if !ok {
		l = rate.NewLimiter(b.limit, b.burst)
		b.byKey[key] = l
	}
	b.mu.Unlock()
	return l.AllowN(b.now(), 1)
}

// readPage fetches an HTML or text page and returns the blocks that mention
// one of keywords, capped at maxPageText.
func (s *applianceSearch) readPage(ctx context.Context, target string, keywords []string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}
	client := s.httpClient
	if client == nil {
		client = &http.Client{Timeout: SearchHTTPTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "FridgeClinic-ApplianceSearch/1.0")
	req.Header.Set("Accept", "text/html,text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: %s", resp.Status)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	body := io.LimitReader(resp.Body, maxPageBytes)
	var blocks []string
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		blocks, err = htmlBlocks(body)
		if err != nil {
			return "", err
		}
	case "text/plain":
		data, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		blocks = strings.Split(string(data), "\n")
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
	return relevantText(blocks, keywords, maxPageText), nil
}

func htmlBlocks(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, nav, footer, header, aside, iframe, form").Remove()

	var blocks []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		blocks = append(blocks, title)
	}
	doc.Find("h1, h2, h3, p, li, tr").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.Join(strings.Fields(sel.Text()), " "); text != "" {
			blocks = append(blocks, text)
		}
	})
	return blocks, nil
}

// relevantText keeps the blocks mentioning a keyword. A page with no match
// falls back to its opening blocks.
func relevantText(blocks, keywords []string, limit int) string {
	var matched []string
	for _, b := range blocks {
		lower := strings.ToLower(b)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				matched = append(matched, b)
				break
			}
		}
	}
	if len(matched) == 0 {
		matched = blocks
	}

	var out strings.Builder
	for _, b := range matched {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if out.Len()+len(b)+1 > limit {
			if out.Len() == 0 {
				out.WriteString(b[:limit])
			}
			break
		}
		out.WriteString(b)
		out.WriteByte('\n')
	}
	return strings.TrimSpace(out.String())
}

func pageKeywords(query string, a Appliance) []string {
	var keywords []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if len(f) >= 4 {
			keywords = append(keywords, f)
		}
	}
	if a.Model != "" {
		keywords = append(keywords, strings.ToLower(a.Model))
	}
	return keywords
}
