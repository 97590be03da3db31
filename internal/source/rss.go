package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/techdigest/internal/model"
)

// DefaultRSSFeedURL は hnrss.org のフロントページフィード。
const DefaultRSSFeedURL = "https://hnrss.org/frontpage"

var (
	hnItemIDPattern   = regexp.MustCompile(`item\?id=(\d+)`)
	hnPointsPattern   = regexp.MustCompile(`Points:\s*(\d+)`)
	hnCommentsPattern = regexp.MustCompile(`#\s*Comments:\s*(\d+)`)
)

// RSSProvider は hnrss.org 形式のRSSフィードからストーリーを取得する。
// スコアとコメント数は記事の説明文から読み取る。
type RSSProvider struct {
	fetcher httpFetcher
	logger  *slog.Logger
	feedURL string
	now     func() time.Time
}

var _ Provider = (*RSSProvider)(nil)

// NewRSSProvider はRSSProviderを生成する。
func NewRSSProvider(httpClient *http.Client, logger *slog.Logger, feedURL string, maxBodySize int64) *RSSProvider {
	if feedURL == "" {
		feedURL = DefaultRSSFeedURL
	}
	if maxBodySize <= 0 {
		maxBodySize = 5 << 20
	}
	return &RSSProvider{
		fetcher: httpFetcher{
			client:      httpClient,
			logger:      logger,
			maxBodySize: maxBodySize,
			retryDelays: defaultRetryDelays,
		},
		logger:  logger,
		feedURL: feedURL,
		now:     time.Now,
	}
}

// FetchCandidates はフィードを取得し、先頭から最大maxCount件を返す。
// フィード自体の取得またはパースに失敗した場合は提供元障害として扱う。
func (p *RSSProvider) FetchCandidates(ctx context.Context, maxCount int) ([]model.Story, error) {
	body, err := p.fetcher.get(ctx, p.feedURL,
		"application/rss+xml, application/atom+xml, application/xml, text/xml, */*", true)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching feed: %w", model.ErrProviderUnavailable, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing feed: %w", model.ErrProviderUnavailable, err)
	}

	stories := make([]model.Story, 0, len(feed.Items))
	for _, item := range feed.Items {
		if maxCount >= 0 && len(stories) >= maxCount {
			break
		}
		story, ok := storyFromFeedItem(item)
		if !ok {
			p.logger.Debug("ストーリーとして扱えないフィード記事を除外します",
				slog.String("guid", item.GUID),
				slog.String("link", item.Link),
			)
			continue
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// FetchTrending はフィードの候補から直近hoursBack時間のトレンドを選ぶ。
func (p *RSSProvider) FetchTrending(ctx context.Context, limit, hoursBack int) ([]model.Story, error) {
	candidates, err := p.FetchCandidates(ctx, CandidatePoolSize(limit))
	if err != nil {
		return nil, err
	}
	return SelectTrending(candidates, limit, hoursBack, p.now()), nil
}

// storyFromFeedItem はhnrssの記事をStoryに変換する。
// IDはGUIDまたは説明文中のコメントURLから取得する。
func storyFromFeedItem(item *gofeed.Item) (model.Story, bool) {
	if item == nil || item.Link == "" || strings.TrimSpace(item.Title) == "" {
		return model.Story{}, false
	}

	id := matchInt(hnItemIDPattern, item.GUID)
	if id == 0 {
		id = matchInt(hnItemIDPattern, item.Description)
	}
	if id == 0 {
		return model.Story{}, false
	}
	// Ask HN などのテキスト投稿は外部URLを持たない
	if isCommentsPage(item.Link, id) {
		return model.Story{}, false
	}

	story := model.Story{
		ID:           id,
		Title:        strings.TrimSpace(item.Title),
		URL:          item.Link,
		Score:        int(matchInt(hnPointsPattern, item.Description)),
		CommentCount: int(matchInt(hnCommentsPattern, item.Description)),
	}
	if item.PublishedParsed != nil {
		story.CreatedAt = item.PublishedParsed.Unix()
	} else if item.UpdatedParsed != nil {
		story.CreatedAt = item.UpdatedParsed.Unix()
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		story.Author = item.Authors[0].Name
	}
	return story, true
}

// isCommentsPage はlinkが記事idのHacker Newsコメントページを指すかを返す。
func isCommentsPage(link string, id int64) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "news.ycombinator.com" || u.Path != "/item" {
		return false
	}
	return u.Query().Get("id") == strconv.FormatInt(id, 10)
}

func matchInt(re *regexp.Regexp, s string) int64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
