// Package model はドメインモデルを定義する。
package model

import "time"

// Story はストーリー提供元から取得した記事を表す。
// 取得後は不変として扱う。
type Story struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Score        int    `json:"score"`
	CommentCount int    `json:"comment_count"`
	CreatedAt    int64  `json:"created_at"` // エポック秒
	Author       string `json:"author"`
	Text         string `json:"text,omitempty"` // サニタイズ済みHTML
}

// CreatedTime はCreatedAtをtime.Timeとして返す。
func (s Story) CreatedTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

// Category はストーリーのトピック分類を表す。
type Category string

const (
	CategoryAIML           Category = "AI & ML"
	CategoryWebDevelopment Category = "Web Development"
	CategoryMobile         Category = "Mobile"
	CategoryCloudInfra     Category = "Cloud & Infrastructure"
	CategoryStartups       Category = "Startups & Business"
	CategorySecurity       Category = "Security"
	CategoryHardware       Category = "Hardware"
	CategoryGeneralTech    Category = "General Tech"
)

// AllCategories は全カテゴリを判定順で返す。最後がフォールバック。
func AllCategories() []Category {
	return []Category{
		CategoryAIML,
		CategoryWebDevelopment,
		CategoryMobile,
		CategoryCloudInfra,
		CategoryStartups,
		CategorySecurity,
		CategoryHardware,
		CategoryGeneralTech,
	}
}

// ParseCategory は文字列を既知のカテゴリに変換する。
// 未知の値の場合はfalseを返す。
func ParseCategory(s string) (Category, bool) {
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Summary は1件のストーリーに対するAI要約。
// Errorが空でない場合はフォールバック要約であることを示す。
type Summary struct {
	SummaryText   string    `json:"summary"`
	WhyItMatters  string    `json:"why_it_matters"`
	Category      Category  `json:"category"`
	OriginalStory Story     `json:"original_story"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         string    `json:"error,omitempty"`
}

// Overview はダイジェスト全体の概要。
type Overview struct {
	Text        string    `json:"overview"`
	StoryCount  int       `json:"story_count"`
	Date        string    `json:"date"`
	GeneratedAt time.Time `json:"generated_at"`
	Error       string    `json:"error,omitempty"`
}
