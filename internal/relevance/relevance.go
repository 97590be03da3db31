// Package relevance はストーリーが技術系ダイジェストの対象かどうかを判定する。
// タイトルのキーワードとURLのドメインパターンによる単純なヒューリスティックを用いる。
package relevance

import (
	"strings"

	"github.com/hitoshi/techdigest/internal/model"
)

// Keywords はタイトルに含まれていれば技術系とみなす語句（小文字）。
// 部分文字列として照合するため "go" は "google" にも一致する。
var Keywords = []string{
	// プログラミング
	"javascript", "python", "react", "vue", "angular", "node", "typescript", "rust", "go", "java",
	"c++", "swift", "kotlin", "flutter", "docker", "kubernetes", "aws", "azure", "gcp",

	// AI/ML
	"ai", "artificial intelligence", "machine learning", "ml", "deep learning", "neural network",
	"chatgpt", "openai", "llm", "gpt", "claude", "gemini", "anthropic",

	// 企業・プロダクト
	"apple", "google", "microsoft", "amazon", "meta", "facebook", "twitter", "x.com", "tesla",
	"nvidia", "intel", "amd", "github", "gitlab", "vercel", "netlify",

	// Web・モバイル
	"web development", "mobile app", "ios", "android", "api", "rest", "graphql", "database",
	"postgresql", "mysql", "mongodb", "redis", "firebase",

	// インフラ
	"cloud", "serverless", "microservices", "devops", "ci/cd", "deployment", "hosting",

	// 新興技術
	"blockchain", "crypto", "bitcoin", "ethereum", "web3", "nft", "metaverse", "vr", "ar",
	"quantum computing", "iot", "5g", "edge computing",

	// ビジネス
	"startup", "saas", "fintech", "edtech", "healthtech", "proptech", "venture capital", "vc",
	"ipo", "acquisition", "funding", "series a", "series b",

	// 一般
	"software", "hardware", "tech", "technology", "digital", "cyber", "data", "analytics",
	"algorithm", "open source", "framework", "library", "tool", "platform",
}

// DomainPatterns はURLに含まれていれば技術系とみなすパターン（小文字）。
var DomainPatterns = []string{
	"github.com", "stackoverflow.com", "medium.com", "dev.to", "techcrunch.com",
	"arstechnica.com", "theverge.com", "wired.com", "engadget.com", "venturebeat.com",
	"blog.", "docs.", "developer.", "api.", "engineering.",
}

// IsRelevant はタイトルがキーワードを含むか、URLがドメインパターンを含む場合にtrueを返す。
// タイトルまたはURLが空のストーリーは対象外。
func IsRelevant(s model.Story) bool {
	if s.Title == "" || s.URL == "" {
		return false
	}
	title := strings.ToLower(s.Title)
	for _, kw := range Keywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	url := strings.ToLower(s.URL)
	for _, p := range DomainPatterns {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// Filter は対象となるストーリーだけを元の順序で返す。
func Filter(stories []model.Story) []model.Story {
	out := make([]model.Story, 0, len(stories))
	for _, s := range stories {
		if IsRelevant(s) {
			out = append(out, s)
		}
	}
	return out
}
