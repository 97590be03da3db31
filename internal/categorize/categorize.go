// Package categorize はストーリーをトピック別のカテゴリに振り分ける。
package categorize

import (
	"regexp"
	"strings"

	"github.com/hitoshi/techdigest/internal/model"
)

// rule はカテゴリとタイトルに対する単語境界付きのパターン。
type rule struct {
	category model.Category
	pattern  *regexp.Regexp
}

// rules は判定順。先に一致したルールが優先される。
var rules = []rule{
	{model.CategoryAIML, wordPattern("ai", "artificial intelligence", "machine learning", "ml", "deep learning", "neural", "gpt", "llm", "openai", "anthropic", "claude")},
	{model.CategoryWebDevelopment, wordPattern("javascript", "react", "vue", "angular", "web", "frontend", "backend", "api", "database")},
	{model.CategoryMobile, wordPattern("ios", "android", "mobile", "app", "flutter", "swift", "kotlin")},
	{model.CategoryCloudInfra, wordPattern("cloud", "aws", "azure", "gcp", "docker", "kubernetes", "serverless", "devops")},
	{model.CategoryStartups, wordPattern("startup", "funding", "ipo", "acquisition", "saas", "fintech", "venture")},
	{model.CategorySecurity, wordPattern("security", "cyber", "breach", "hack", "vulnerability", "privacy")},
	{model.CategoryHardware, wordPattern("hardware", "chip", "processor", "nvidia", "intel", "amd", "quantum")},
}

func wordPattern(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(` + strings.Join(words, "|") + `)\b`)
}

// Classify はタイトルに最初に一致したルールのカテゴリを返す。
// どのルールにも一致しない場合は General Tech。
func Classify(s model.Story) model.Category {
	title := strings.ToLower(s.Title)
	for _, r := range rules {
		if r.pattern.MatchString(title) {
			return r.category
		}
	}
	return model.CategoryGeneralTech
}

// Categorize はストーリーをカテゴリ別に振り分ける。
// 各ストーリーはちょうど1つのカテゴリに入り、カテゴリ内は入力順を保つ。
// ストーリーが1件もないカテゴリはキーごと含めない。
func Categorize(stories []model.Story) map[model.Category][]model.Story {
	buckets := make(map[model.Category][]model.Story)
	for _, s := range stories {
		c := Classify(s)
		buckets[c] = append(buckets[c], s)
	}
	return buckets
}
