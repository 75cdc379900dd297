// Package index expands series, collection and favourites pages into the
// story URLs they link to.
package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// storyPaths match a story page or any of its chapter pages. The first
// submatch is the story root, so chapter links collapse onto their story.
var storyPaths = []struct {
	re     *regexp.Regexp
	suffix string
}{
	{regexp.MustCompile(`^(/works/\d+)(/.*)?$`), ""},
	{regexp.MustCompile(`^(/s/\d+)(/.*)?$`), ""},
	{regexp.MustCompile(`^(/fiction/\d+)(/.*)?$`), ""},
	{regexp.MustCompile(`^(/threads/[^/]*\.\d+)(/.*)?$`), "/"},
}

type Extractor struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

func NewExtractor(userAgent string, timeout time.Duration, logger *slog.Logger) *Extractor {
	return &Extractor{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		logger:     logger.With("component", "index"),
	}
}

// StoryURLs fetches pageURL and returns the story URLs it links to.
func (e *Extractor) StoryURLs(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid index url %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch index %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch index %s: unexpected status: %d", pageURL, resp.StatusCode)
	}

	urls, err := Extract(base, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index %s: %w", pageURL, err)
	}

	e.logger.Info("expanded index page", "url", pageURL, "stories", len(urls))
	return urls, nil
}

// Extract returns the story links found in an HTML document, resolved
// against base. Only links on base's host are kept. Chapter links are
// reduced to their story root without query or fragment; duplicates keep
// their first position.
func Extract(base *url.URL, r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	host := strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
	seen := make(map[string]struct{})
	var urls []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}

		u := base.ResolveReference(ref)
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") != host {
			return
		}
		root, ok := storyRoot(u.Path)
		if !ok {
			return
		}

		u.Path = root
		u.RawPath = ""
		u.RawQuery = ""
		u.Fragment = ""
		u.RawFragment = ""
		s := u.String()
		if _, ok := seen[root]; ok {
			return
		}
		seen[root] = struct{}{}
		urls = append(urls, s)
	})

	return urls, nil
}

// storyRoot returns the story path that p belongs to.
func storyRoot(p string) (string, bool) {
	for _, sp := range storyPaths {
		if m := sp.re.FindStringSubmatch(p); m != nil {
			return m[1] + sp.suffix, true
		}
	}
	return "", false
}
