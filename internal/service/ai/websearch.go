package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"relaybot/internal/config"
)

const (
	searchTimeout = 10 * time.Second
	maxPageBytes  = 512 * 1024
	webSearchName = "web_search"
)

// ErrSearchFailed is returned when every search provider failed.
var ErrSearchFailed = errors.New("no search provider succeeded")

// searchProvider is one backend web_search falls through, in order.
type searchProvider struct {
	name string
	tool tool.InvokableTool
}

type webSearch struct {
	providers  []searchProvider
	httpClient *http.Client
	logger     *slog.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

// newToolsChain returns the tools offered to the react agent.
func newToolsChain(ctx context.Context, cfg config.SearchConfig, logger *slog.Logger) []tool.BaseTool {
	providers := searchProviders(ctx, cfg, logger)
	if len(providers) == 0 {
		logger.Warn("web search disabled: no search providers available")
		return nil
	}
	ws := &webSearch{
		providers:  providers,
		httpClient: &http.Client{Timeout: searchTimeout},
		logger:     logger,
	}
	return []tool.BaseTool{ws.tool()}
}

func searchProviders(ctx context.Context, cfg config.SearchConfig, logger *slog.Logger) []searchProvider {
	var providers []searchProvider
	if cfg.GoogleAPIKey != "" && cfg.GoogleEngineID != "" {
		g, err := googlesearch.NewTool(ctx, &googlesearch.Config{
			ToolName:       webSearchName + "_google",
			ToolDesc:       "Google Custom Search",
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleEngineID,
			Lang:           "en",
			Num:            cfg.MaxResults,
		})
		if err != nil {
			logger.Warn("google search unavailable", "error", err)
		} else {
			providers = append(providers, searchProvider{name: "google", tool: g})
		}
	}

	d, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   webSearchName + "_ddg",
		ToolDesc:   "DuckDuckGo text search",
		MaxResults: cfg.MaxResults,
		Region:     duckduckgo.RegionWT,
		Timeout:    searchTimeout,
	})
	if err != nil {
		logger.Warn("duckduckgo search unavailable", "error", err)
	} else {
		providers = append(providers, searchProvider{name: "duckduckgo", tool: d})
	}
	return providers
}

func (w *webSearch) tool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: webSearchName,
		Desc: "Search the web for current information. " +
			"Pass a URL instead of a query to read that page.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or an http(s) URL",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, w.run)
}

func (w *webSearch) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	if looksLikeURL(query) {
		page, err := w.fetchPage(ctx, query)
		if err == nil {
			return page, nil
		}
		w.logger.Warn("web page fetch failed, searching instead", "url", query, "error", err)
	}

	payload, err := json.Marshal(webSearchParams{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	for _, p := range w.providers {
		result, err := p.tool.InvokableRun(ctx, string(payload))
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		w.logger.Warn("search provider failed", "provider", p.name, "error", err)
	}
	return "", ErrSearchFailed
}

func (w *webSearch) fetchPage(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
