package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// StoryTextSanitizer はストーリー本文（セルフ投稿のHTML）を扱う。
// 取得元から受け取ったHTMLを保存用にサニタイズし、プロンプト用にプレーンテキストへ変換する。
type StoryTextSanitizer struct {
	policy *bluemonday.Policy
}

// NewStoryTextSanitizer はStoryTextSanitizerを生成する。
// 許可タグは p, br, a, pre, code, i, em, strong のみ。
// aタグはhttp/httpsの絶対URLに限り、rel="nofollow noreferrer" が付与される。
func NewStoryTextSanitizer() *StoryTextSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "pre", "code", "i", "em", "strong")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	return &StoryTextSanitizer{policy: p}
}

// Sanitize は許可リスト外のタグと属性を除去したHTMLを返す。
func (s *StoryTextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// PlainText はHTMLからテキストノードのみを取り出し、空白を1つにまとめて返す。
// maxRunes を超える場合は末尾を切り詰めて "..." を付ける。maxRunes <= 0 は無制限。
func PlainText(rawHTML string, maxRunes int) string {
	if rawHTML == "" {
		return ""
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	skip := 0
loop:
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			break loop
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style":
				skip++
			case "p", "br", "pre", "li":
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if n := string(tn); (n == "script" || n == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}

	text := strings.Join(strings.Fields(b.String()), " ")
	if maxRunes > 0 {
		if r := []rune(text); len(r) > maxRunes {
			return string(r[:maxRunes]) + "..."
		}
	}
	return text
}
