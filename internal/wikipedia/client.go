package wikipedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"concept-rag/internal/config"
	"concept-rag/internal/helper"
)

const maxCandidates = 5

var ErrNotFound = errors.New("wikipedia page not found")

// Page is the text fetched for one article.
type Page struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// Client talks to the MediaWiki action API.
type Client struct {
	endpoint string
	maxChars int
	http     *http.Client
}

func New(cfg *config.WikipediaConfig) *Client {
	endpoint := strings.TrimSpace(cfg.BaseURL)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.wikipedia.org/w/api.php", cfg.Lang)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{endpoint: endpoint, maxChars: cfg.MaxChars, http: &http.Client{Timeout: timeout}}
}

// Lookup resolves term through search suggestions and returns the first
// candidate that exists and is not a disambiguation page.
func (c *Client) Lookup(ctx context.Context, term string) (*Page, error) {
	candidates, err := c.search(ctx, term)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates = []string{term}
	}

	for _, title := range candidates {
		page, disambiguation, err := c.page(ctx, title)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if disambiguation {
			log.Debug().Str("term", term).Str("title", title).Msg("Skipping disambiguation page")
			continue
		}
		log.Info().Str("term", term).Str("title", page.Title).Msg("Found Wikipedia page")
		return page, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, term)
}

// Content looks term up and returns its context text.
func (c *Client) Content(ctx context.Context, term string) (string, error) {
	page, err := c.Lookup(ctx, term)
	if err != nil {
		return "", err
	}
	return c.Text(page), nil
}

// Text is the page as one context block: summary, blank line, then the body
// cut to the configured length.
func (c *Client) Text(p *Page) string {
	body := p.Content
	if c.maxChars > 0 {
		body = helper.Truncate(body, c.maxChars)
	}
	return p.Summary + "\n\n" + body
}

func (c *Client) Ping(ctx context.Context) error {
	var out struct{}
	return c.get(ctx, url.Values{"action": {"query"}, "meta": {"siteinfo"}}, &out)
}

func (c *Client) search(ctx context.Context, term string) ([]string, error) {
	var out struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	q := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {term},
		"srlimit":  {fmt.Sprint(maxCandidates)},
	}
	if err := c.get(ctx, q, &out); err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}
	titles := make([]string, 0, len(out.Query.Search))
	for _, s := range out.Query.Search {
		titles = append(titles, s.Title)
	}
	return titles, nil
}

func (c *Client) page(ctx context.Context, title string) (*Page, bool, error) {
	var out struct {
		Query struct {
			Pages []struct {
				Title     string            `json:"title"`
				Missing   bool              `json:"missing"`
				Extract   string            `json:"extract"`
				FullURL   string            `json:"fullurl"`
				PageProps map[string]string `json:"pageprops"`
			} `json:"pages"`
		} `json:"query"`
	}
	q := url.Values{
		"action":      {"query"},
		"prop":        {"extracts|pageprops|info"},
		"inprop":      {"url"},
		"explaintext": {"1"},
		"redirects":   {"1"},
		"titles":      {title},
	}
	if err := c.get(ctx, q, &out); err != nil {
		return nil, false, fmt.Errorf("wikipedia page: %w", err)
	}
	if len(out.Query.Pages) == 0 || out.Query.Pages[0].Missing {
		return nil, false, ErrNotFound
	}
	p := out.Query.Pages[0]
	if _, ok := p.PageProps["disambiguation"]; ok {
		return nil, true, nil
	}
	extract := strings.TrimSpace(p.Extract)
	if extract == "" {
		return nil, false, ErrNotFound
	}
	return &Page{
		Title:   p.Title,
		URL:     p.FullURL,
		Summary: summary(extract),
		Content: extract,
	}, false, nil
}

// summary is the lead section: everything before the first "== heading".
func summary(extract string) string {
	if i := strings.Index(extract, "\n=="); i >= 0 {
		return strings.TrimSpace(extract[:i])
	}
	return extract
}

func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	q.Set("format", "json")
	q.Set("formatversion", "2")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "concept-rag/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wikipedia http %d: %s", resp.StatusCode, helper.Truncate(string(raw), 200))
	}
	return json.Unmarshal(raw, out)
}
