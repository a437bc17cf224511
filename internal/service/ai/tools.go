package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fridgeclinic/internal/config"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// Search kinds accepted by the appliance_search tool.
const (
	SearchPart     = "part"
	SearchManual   = "manual"
	SearchBulletin = "bulletin"
	SearchGeneral  = "general"
)

func InitToolsChain(cfg config.ChatConfig) []tool.BaseTool {
	var tools []tool.BaseTool

	if ws := InitApplianceSearch(cfg); ws != nil {
		tools = append(tools, ws)
	}
	return tools
}

// InitApplianceSearch builds the tool the assistant uses to look up parts,
// manuals and service bulletins for the refrigerator under discussion.
// Google is tried first, DuckDuckGo is the fallback.
func InitApplianceSearch(cfg config.ChatConfig) tool.InvokableTool {
	googleTool := InitGooglesearch(cfg)
	duckTool := InitDDGsearch()
	if googleTool == nil && duckTool == nil {
		slog.Warn("appliance search tool disabled: no search providers available")
		return nil
	}

	s := &applianceSearch{
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: SearchHTTPTimeout},
		budget:     newSearchBudget(SearchCallsPerWindow, SearchWindow),
	}

	info := &schema.ToolInfo{
		Name: "appliance_search",
		Desc: "Look up replacement parts, service manuals and manufacturer service bulletins for the refrigerator " +
			"in this diagnosis. The brand, model and issue category are added to the query automatically. " +
			"For kind part or manual, url may point at a parts or manual page to read instead of searching.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"kind": {
				Desc: "What to look for",
				Type: schema.String,
				Enum: []string{SearchPart, SearchManual, SearchBulletin, SearchGeneral},
			},
			"query": {
				Desc:     "The part, symptom or topic, e.g. \"defrost heater\" or \"ice maker not filling\"",
				Type:     schema.String,
				Required: true,
			},
			"url": {
				Desc: "Optional parts or manual page to read",
				Type: schema.String,
			},
		}),
	}

	return utils.NewTool(info, s.run)
}

type applianceSearch struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	budget     *searchBudget
}

type applianceSearchParams struct {
	Kind  string `json:"kind"`
	Query string `json:"query"`
	URL   string `json:"url"`
}

func (s *applianceSearch) run(ctx context.Context, params *applianceSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	kind := normalizeKind(params.Kind)
	appliance, _ := ApplianceFromContext(ctx)
	if s.budget != nil && !s.budget.Allow(appliance.ConversationID) {
		return "", errors.New("search budget for this conversation is used up, please retry in a minute")
	}

	if target := strings.TrimSpace(params.URL); target != "" {
		if kind != SearchPart && kind != SearchManual {
			return "", errors.New("url is only accepted for part and manual lookups")
		}
		text, err := s.readPage(ctx, target, pageKeywords(query, appliance))
		if err == nil {
			return text, nil
		}
		slog.Warn("appliance page read failed", "url", target, "error", err)
	}

	refined := buildSearchQuery(kind, query, appliance)
	payload, err := json.Marshal(map[string]string{"query": refined})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}

	if s.google != nil {
		if result, err := s.google.InvokableRun(ctx, string(payload)); err == nil {
			return result, nil
		} else {
			slog.Warn("google search failed", "kind", kind, "error", err)
		}
	}
	if s.duck != nil {
		if result, err := s.duck.InvokableRun(ctx, string(payload)); err == nil {
			return result, nil
		} else {
			slog.Warn("duckduckgo search failed", "kind", kind, "error", err)
		}
	}
	return "", errors.New("no search provider succeeded")
}

func normalizeKind(kind string) string {
	switch k := strings.ToLower(strings.TrimSpace(kind)); k {
	case SearchPart, SearchManual, SearchBulletin:
		return k
	default:
		return SearchGeneral
	}
}

// buildSearchQuery prefixes query with whatever the diagnosis knows about the
// appliance and appends the terms that steer results to the requested kind.
func buildSearchQuery(kind, query string, a Appliance) string {
	lower := strings.ToLower(query)
	var terms []string
	for _, v := range []string{a.Brand, a.Model} {
		if v != "" && !strings.Contains(lower, strings.ToLower(v)) {
			terms = append(terms, v)
		}
	}
	if !strings.Contains(lower, "refrigerator") && !strings.Contains(lower, "fridge") && !strings.Contains(lower, "freezer") {
		terms = append(terms, "refrigerator")
	}
	switch kind {
	case SearchPart:
		terms = append(terms, query, "replacement part number")
	case SearchManual:
		terms = append(terms, query, "service manual")
	case SearchBulletin:
		if a.IssueCategory != "" && !strings.Contains(lower, strings.ToLower(a.IssueCategory)) {
			terms = append(terms, a.IssueCategory)
		}
		terms = append(terms, query, "service bulletin recall")
	default:
		terms = append(terms, query)
	}
	return strings.Join(terms, " ")
}

// InitDDGsearch Init DDG Search
func InitDDGsearch() tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   "appliance_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		slog.Warn("duckduckgo search tool disabled", "error", err)
		return nil
	}
	return duckTool
}

// InitGooglesearch Init Google Search
func InitGooglesearch(cfg config.ChatConfig) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.GoogleSearchEngineID == "" {
		slog.Info("google search tool disabled: missing google_api_key or google_search_engine_id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       "appliance_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleSearchEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		slog.Warn("google search tool disabled", "error", err)
		return nil
	}
	return googleTool
}
