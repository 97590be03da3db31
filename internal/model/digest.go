package model

import (
	"fmt"
	"time"
)

// DigestDateLayout はダイジェストのdateフィールドの書式。
const DigestDateLayout = "Mon Jan 02 2006"

// DigestParams はダイジェスト生成とキャッシュキー導出に使うパラメータ。
type DigestParams struct {
	StoryLimit int `json:"story_limit"`
	HoursBack  int `json:"hours_back"`
}

// パラメータの許容範囲
const (
	MinStoryLimit = 1
	MaxStoryLimit = 50
	MinHoursBack  = 1
	MaxHoursBack  = 168
)

// Validate はパラメータが許容範囲内かを検証する。
func (p DigestParams) Validate() error {
	if p.StoryLimit < MinStoryLimit || p.StoryLimit > MaxStoryLimit {
		return NewInvalidParameterError("limit",
			fmt.Sprintf("Story limit must be between %d and %d", MinStoryLimit, MaxStoryLimit))
	}
	if p.HoursBack < MinHoursBack || p.HoursBack > MaxHoursBack {
		return NewInvalidParameterError("hours",
			fmt.Sprintf("Hours back must be between %d and %d (1 week)", MinHoursBack, MaxHoursBack))
	}
	return nil
}

// GenerateConfig はダイジェスト生成の設定。
// Credentialsはシリアライズされず、キャッシュ保存前にも除去される。
type GenerateConfig struct {
	StoryLimit  int    `json:"story_limit"`
	HoursBack   int    `json:"hours_back"`
	Credentials string `json:"-"`
}

// Params はキャッシュキー導出用のパラメータを返す。
func (c GenerateConfig) Params() DigestParams {
	return DigestParams{StoryLimit: c.StoryLimit, HoursBack: c.HoursBack}
}

// DigestStats は各ステップで観測した件数。
type DigestStats struct {
	Fetched       int `json:"total_stories_fetched"`
	Filtered      int `json:"tech_stories_found"`
	Summarized    int `json:"stories_summarized"`
	CategoryCount int `json:"categories_found"`
}

// CacheInfo はキャッシュから返却された際に付与されるメタデータ。
type CacheInfo struct {
	Cached      bool       `json:"cached"`
	GeneratedAt time.Time  `json:"generated_at"`
	ServedAt    *time.Time `json:"served_from_cache_at,omitempty"`
	AgeMinutes  int        `json:"cache_age_minutes"`
}

// Digest は1回の生成リクエストで組み立てられたダイジェスト。
// 組み立て後は不変であり、キャッシュメタデータの付与のみ許される。
type Digest struct {
	ID          string               `json:"id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Date        string               `json:"date"`
	Overview    Overview             `json:"overview"`
	Summaries   []Summary            `json:"summaries"`
	Categories  map[Category][]Story `json:"categories"`
	Stats       DigestStats          `json:"stats"`
	Config      GenerateConfig       `json:"config"`
	CacheInfo   *CacheInfo           `json:"cache_info,omitempty"`
}

// WithoutSecrets は認証情報とキャッシュメタデータを除いたコピーを返す。
// キャッシュへの保存前に使用する。
func (d *Digest) WithoutSecrets() *Digest {
	cp := *d
	cp.Config.Credentials = ""
	cp.CacheInfo = nil
	return &cp
}

// WithCacheInfo はキャッシュメタデータを付与したコピーを返す。
// ID、GeneratedAt、内容フィールドは変更しない。
func (d *Digest) WithCacheInfo(info CacheInfo) *Digest {
	cp := *d
	cp.CacheInfo = &info
	return &cp
}

// CategoryNames はダイジェストに含まれるカテゴリ名を判定順で返す。
func (d *Digest) CategoryNames() []Category {
	var names []Category
	for _, c := range AllCategories() {
		if _, ok := d.Categories[c]; ok {
			names = append(names, c)
		}
	}
	return names
}

// CacheEntry は永続化ストアに保存されるキャッシュ行。
type CacheEntry struct {
	ID        string
	Key       string
	Payload   []byte // 認証情報を除去したDigestのJSON
	Params    []byte // DigestParamsのJSON
	CreatedAt time.Time
}

// CacheStats はキャッシュの統計情報。
type CacheStats struct {
	TotalEntries          int     `json:"total_entries"`
	FreshEntries          int     `json:"fresh_entries"`
	ExpiredEntries        int     `json:"expired_entries"`
	OldestEntryAgeMinutes int     `json:"oldest_entry_age_minutes"`
	ApproxSizeMB          float64 `json:"cache_size_mb"`
}
