package research

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	userAgent       = "ci-agent/3.0 (+competitive-intelligence research)"
	maxPageBytes    = 2 << 20
	defaultMaxChars = 4000
	maxHeadings     = 12
)

// WebsiteTool fetches the competitor's site and extracts its readable text
type WebsiteTool struct {
	client   *http.Client
	maxChars int
}

// NewWebsiteTool creates the tool. A nil client uses http.DefaultClient.
func NewWebsiteTool(client *http.Client, maxChars int) *WebsiteTool {
	if client == nil {
		client = http.DefaultClient
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &WebsiteTool{client: client, maxChars: maxChars}
}

func (w *WebsiteTool) Name() string { return "website" }

func (w *WebsiteTool) Input(t Target) map[string]any {
	if strings.TrimSpace(t.Website) == "" {
		return nil
	}
	return map[string]any{"url": normalizeURL(t.Website), "competitor": t.Competitor}
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw
}

// Page is what the tool extracts from one HTML document
type Page struct {
	URL         string
	Title       string
	Description string
	Headings    []string
	PricingURL  string
	Text        string
}

func (w *WebsiteTool) Run(ctx context.Context, t Target) (string, error) {
	page, err := w.Fetch(ctx, normalizeURL(t.Website))
	if err != nil {
		return "", err
	}
	return page.String(), nil
}

// Fetch downloads and parses rawURL
func (w *WebsiteTool) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid website url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status code %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Host, err)
	}

	return w.parse(u, body)
}

func (w *WebsiteTool) parse(u *url.URL, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &Page{
		URL:   u.String(),
		Title: collapse(doc.Find("title").First().Text()),
	}
	page.Description, _ = doc.Find(`meta[name="description"]`).Attr("content")
	if page.Description == "" {
		page.Description, _ = doc.Find(`meta[property="og:description"]`).Attr("content")
	}
	page.Description = collapse(page.Description)

	doc.Find("h1,h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if h := collapse(s.Text()); h != "" {
			page.Headings = append(page.Headings, h)
		}
		return len(page.Headings) < maxHeadings
	})

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !strings.Contains(strings.ToLower(href), "pricing") {
			return true
		}
		if ref, err := u.Parse(href); err == nil {
			page.PricingURL = ref.String()
		}
		return false
	})

	rp := readability.NewParser()
	article, err := rp.Parse(bytes.NewReader(body), u)
	if err == nil && article.Content != "" {
		if content, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); err == nil {
			page.Text = collapse(content.Text())
		}
		if page.Title == "" {
			page.Title = article.Title
		}
	}
	if page.Text == "" {
		page.Text = collapse(doc.Find("body").Text())
	}
	page.Text = truncate(page.Text, w.maxChars)

	return page, nil
}

func (p *Page) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", p.URL)
	if p.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	}
	if p.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	}
	if len(p.Headings) > 0 {
		fmt.Fprintf(&sb, "Headings: %s\n", strings.Join(p.Headings, " | "))
	}
	if p.PricingURL != "" {
		fmt.Fprintf(&sb, "Pricing page: %s\n", p.PricingURL)
	}
	if p.Text != "" {
		fmt.Fprintf(&sb, "Content:\n%s", p.Text)
	}
	return strings.TrimSpace(sb.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
