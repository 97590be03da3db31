package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/techdigest/internal/model"
)

func hnrssItem(id int64, title, link string, points, comments int, published time.Time) string {
	return fmt.Sprintf(`<item>
<title><![CDATA[%s]]></title>
<description><![CDATA[<p>Article URL: <a href="%s">%s</a></p>
<p>Comments URL: <a href="https://news.ycombinator.com/item?id=%d">https://news.ycombinator.com/item?id=%d</a></p>
<p>Points: %d</p>
<p># Comments: %d</p>]]></description>
<pubDate>%s</pubDate>
<link>%s</link>
<dc:creator>author%d</dc:creator>
<comments>https://news.ycombinator.com/item?id=%d</comments>
<guid isPermaLink="false">https://news.ycombinator.com/item?id=%d</guid>
</item>`, title, link, link, id, id, points, comments, published.Format(time.RFC1123Z), link, id, id, id)
}

func hnrssFeed(items ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/"><channel>
<title>Hacker News: Front Page</title>
<link>https://news.ycombinator.com/</link>
<description>Hacker News RSS</description>`
	for _, item := range items {
		body += item
	}
	return body + `</channel></rss>`
}

func newTestRSSProvider(t *testing.T, handler http.HandlerFunc) *RSSProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	p := NewRSSProvider(server.Client(), newTestLogger(&buf), server.URL+"/frontpage", 0)
	p.fetcher.retryDelays = []time.Duration{time.Millisecond}
	return p
}

func TestRSSProvider_FetchCandidates_ParsesHNRSS(t *testing.T) {
	published := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	feed := hnrssFeed(
		hnrssItem(101, "Rust in the kernel", "https://lwn.net/Articles/1/", 321, 45, published),
		hnrssItem(102, "A new database", "https://example.com/db", 12, 3, published.Add(-time.Hour)),
	)

	p := newTestRSSProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feed))
	})

	stories, err := p.FetchCandidates(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchCandidates がエラーを返した: %v", err)
	}
	if len(stories) != 2 {
		t.Fatalf("len(stories) = %d, want 2", len(stories))
	}

	s := stories[0]
	if s.ID != 101 {
		t.Errorf("ID = %d, want 101", s.ID)
	}
	if s.Title != "Rust in the kernel" {
		t.Errorf("Title = %q", s.Title)
	}
	if s.URL != "https://lwn.net/Articles/1/" {
		t.Errorf("URL = %q", s.URL)
	}
	if s.Score != 321 || s.CommentCount != 45 {
		t.Errorf("Score/CommentCount = %d/%d, want 321/45", s.Score, s.CommentCount)
	}
	if s.CreatedAt != published.Unix() {
		t.Errorf("CreatedAt = %d, want %d", s.CreatedAt, published.Unix())
	}
	if s.Author != "author101" {
		t.Errorf("Author = %q, want author101", s.Author)
	}
}

func TestRSSProvider_FetchCandidates_RespectsMaxCount(t *testing.T) {
	now := time.Now()
	var items []string
	for id := int64(1); id <= 5; id++ {
		items = append(items, hnrssItem(id, "Story", "https://example.com", 1, 0, now))
	}
	feed := hnrssFeed(items...)

	p := newTestRSSProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	})

	stories, err := p.FetchCandidates(context.Background(), 3)
	if err != nil {
		t.Fatalf("FetchCandidates がエラーを返した: %v", err)
	}
	if want := []int64{1, 2, 3}; !equalIDs(storyIDs(stories), want) {
		t.Errorf("ids = %v, want %v", storyIDs(stories), want)
	}
}

func TestRSSProvider_FetchCandidates_FeedUnavailable(t *testing.T) {
	p := newTestRSSProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.FetchCandidates(context.Background(), 10)
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestRSSProvider_FetchCandidates_MalformedFeed(t *testing.T) {
	p := newTestRSSProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a feed"))
	})

	_, err := p.FetchCandidates(context.Background(), 10)
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestRSSProvider_FetchTrending(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	feed := hnrssFeed(
		hnrssItem(1, "Old", "https://example.com/1", 999, 0, now.Add(-72*time.Hour)),
		hnrssItem(2, "Low", "https://example.com/2", 5, 0, now.Add(-time.Hour)),
		hnrssItem(3, "High", "https://example.com/3", 80, 0, now.Add(-2*time.Hour)),
	)

	p := newTestRSSProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	})
	p.now = func() time.Time { return now }

	stories, err := p.FetchTrending(context.Background(), 5, 24)
	if err != nil {
		t.Fatalf("FetchTrending がエラーを返した: %v", err)
	}
	if want := []int64{3, 2}; !equalIDs(storyIDs(stories), want) {
		t.Errorf("ids = %v, want %v", storyIDs(stories), want)
	}
}

func TestStoryFromFeedItem_RequiresID(t *testing.T) {
	feed := hnrssFeed(`<item><title>No id</title><link>https://example.com</link><description>nothing</description></item>`)

	p := newTestRSSProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	})

	stories, err := p.FetchCandidates(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchCandidates がエラーを返した: %v", err)
	}
	if len(stories) != 0 {
		t.Errorf("IDを特定できない記事は除外されるべき: %+v", stories)
	}
}

func TestRSSProvider_FetchCandidates_SkipsSelfPosts(t *testing.T) {
	published := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	feed := hnrssFeed(
		hnrssItem(201, "Ask HN: How do you deploy Go services?", "https://news.ycombinator.com/item?id=201", 50, 20, published),
		hnrssItem(202, "Show HN: A Go linter", "https://github.com/example/linter", 40, 10, published),
		hnrssItem(203, "Discussion elsewhere", "https://news.ycombinator.com/item?id=999", 30, 5, published),
	)

	p := newTestRSSProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	})

	stories, err := p.FetchCandidates(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchCandidates がエラーを返した: %v", err)
	}
	if len(stories) != 2 {
		t.Fatalf("len(stories) = %d, want 2: %+v", len(stories), stories)
	}
	for _, s := range stories {
		if s.ID == 201 {
			t.Error("自身のコメントページにリンクするテキスト投稿は除外されるべき")
		}
	}
}

func TestIsCommentsPage(t *testing.T) {
	tests := []struct {
		link string
		id   int64
		want bool
	}{
		{"https://news.ycombinator.com/item?id=42", 42, true},
		{"https://www.news.ycombinator.com/item?id=42", 42, true},
		{"https://news.ycombinator.com/item?id=43", 42, false},
		{"https://example.com/item?id=42", 42, false},
		{"https://news.ycombinator.com/user?id=42", 42, false},
		{"://bad", 42, false},
	}
	for _, tt := range tests {
		if got := isCommentsPage(tt.link, tt.id); got != tt.want {
			t.Errorf("isCommentsPage(%q, %d) = %v, want %v", tt.link, tt.id, got, tt.want)
		}
	}
}
