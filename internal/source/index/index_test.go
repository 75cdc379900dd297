package index

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seriesPage = `<html><body>
<ul class="series work index group">
  <li><a href="/works/111">First</a></li>
  <li><a href="/works/111#comments">First again</a></li>
  <li><a href="/works/222?view_adult=true">Second</a></li>
  <li><a href="/works/222/chapters/9">Second, chapter 9</a></li>
  <li><a href="https://www.archiveofourown.org/works/222">Second, www</a></li>
  <li><a href="https://archiveofourown.org/works/333">Third</a></li>
  <li><a href="https://example.com/works/444">Elsewhere</a></li>
  <li><a href="/users/someone">Author</a></li>
  <li><a href="mailto:someone@example.com">Mail</a></li>
  <li><a>No href</a></li>
</ul>
</body></html>`

func TestExtract_FiltersAndDedupes(t *testing.T) {
	base, err := url.Parse("https://archiveofourown.org/series/55")
	require.NoError(t, err)

	urls, err := Extract(base, strings.NewReader(seriesPage))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://archiveofourown.org/works/111",
		"https://archiveofourown.org/works/222",
		"https://archiveofourown.org/works/333",
	}, urls)
}

func TestExtract_OtherArchives(t *testing.T) {
	tests := []struct {
		name string
		base string
		html string
		want []string
	}{
		{
			name: "fanfiction.net favourites",
			base: "https://www.fanfiction.net/u/1/Someone",
			html: `<a href="/s/12345/1/Title">first</a><a href="/s/12345/9/Title">last</a>` +
				`<a href="/u/2/Other">author</a><a href="/s/678/">other</a>`,
			want: []string{"https://www.fanfiction.net/s/12345", "https://www.fanfiction.net/s/678"},
		},
		{
			name: "royalroad list",
			base: "https://www.royalroad.com/fictions/best-rated",
			html: `<a href="/fiction/21220/mother-of-learning/chapter/1">c</a><a href="/fiction/21220/mother-of-learning">m</a>` +
				`<a href="/fictions/best-rated?page=2">next</a>`,
			want: []string{"https://www.royalroad.com/fiction/21220"},
		},
		{
			name: "forum threads",
			base: "https://forums.spacebattles.com/forums/creative-writing.18/",
			html: `<a href="/threads/a-story.98765/page-2">p</a><a href="/threads/a-story.98765/">s</a>`,
			want: []string{"https://forums.spacebattles.com/threads/a-story.98765/"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := url.Parse(tt.base)
			require.NoError(t, err)

			urls, err := Extract(base, strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, urls)
		})
	}
}

func TestStoryURLs(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/series/1":
			io.WriteString(w, `<a href="/works/7">seven</a><a href="/works/8">eight</a>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	e := NewExtractor("fichub-test", 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	urls, err := e.StoryURLs(context.Background(), server.URL+"/series/1")
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + "/works/7", server.URL + "/works/8"}, urls)
	assert.Equal(t, "fichub-test", userAgent)

	_, err = e.StoryURLs(context.Background(), server.URL+"/series/404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = e.StoryURLs(context.Background(), "not a url")
	assert.Error(t, err)
}
