package summarize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/techdigest/internal/model"
	"github.com/hitoshi/techdigest/internal/security"
)

const (
	storySystemPrompt    = "You are a tech industry analyst who creates concise, actionable summaries of tech news. Always respond with valid JSON."
	overviewSystemPrompt = "You are a tech industry analyst creating executive summaries of tech news digests."

	storyMaxTokens    = 200
	overviewMaxTokens = 150
	temperature       = 0.7

	// excerptRunes はプロンプトに含める本文の最大文字数。
	excerptRunes = 500

	fallbackWhyItMatters = "This story is gaining attention in the tech community."
)

func storyPrompt(s model.Story) string {
	var b strings.Builder
	b.WriteString("\nYou are an expert tech analyst creating concise summaries for busy tech professionals. \n\n")
	fmt.Fprintf(&b, "Story Title: %q\n", s.Title)
	fmt.Fprintf(&b, "Story URL: %s\n", s.URL)
	fmt.Fprintf(&b, "HackerNews Score: %d\n", s.Score)
	fmt.Fprintf(&b, "Comments: %d\n", s.CommentCount)
	if excerpt := security.PlainText(s.Text, excerptRunes); excerpt != "" {
		fmt.Fprintf(&b, "Story Text: %s\n", excerpt)
	}
	b.WriteString(`
Create a 2-3 sentence summary that:
1. Explains what this story is about in simple terms
2. Highlights why it matters to the tech industry
3. Focuses on actionable insights or implications

Be concise, insightful, and focus on the "so what?" factor. Avoid jargon when possible.

Format your response as JSON:
{
  "summary": "Your 2-3 sentence summary here",
  "why_it_matters": "One sentence on why this is significant",
  "category": "One of: `)
	b.WriteString(categoryList())
	b.WriteString("\"\n}")
	return b.String()
}

func categoryList() string {
	names := make([]string, 0, len(model.AllCategories()))
	for _, c := range model.AllCategories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func overviewPrompt(summaries []model.Summary, date string) string {
	lines := make([]string, len(summaries))
	for i, s := range summaries {
		lines[i] = fmt.Sprintf("%d. %s (%s)", i+1, s.OriginalStory.Title, s.Category)
	}
	return fmt.Sprintf(`
You are creating an executive overview for a tech digest containing %d stories from %s.

Stories included:
%s

Create a brief executive summary (2-3 sentences) that:
1. Identifies the main themes or trends across these stories
2. Highlights the most significant development
3. Provides context for why these stories matter collectively

Keep it concise and executive-friendly.`, len(summaries), date, strings.Join(lines, "\n"))
}

// storyResponse はバックエンドが返すべきJSONの形。
type storyResponse struct {
	Summary      string `json:"summary"`
	WhyItMatters string `json:"why_it_matters"`
	Category     string `json:"category"`
}

var errEmptySummary = errors.New("response has an empty summary")

// parseStoryResponse はバックエンドの応答をstoryResponseとして解釈する。
// コードフェンスや前後の説明文は無視し、最初の '{' から最後の '}' までを読む。
func parseStoryResponse(raw string) (storyResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return storyResponse{}, fmt.Errorf("response is not a JSON object: %q", truncate(raw, 80))
	}

	var resp storyResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return storyResponse{}, fmt.Errorf("parsing response JSON: %w", err)
	}
	resp.Summary = strings.TrimSpace(resp.Summary)
	resp.WhyItMatters = strings.TrimSpace(resp.WhyItMatters)
	resp.Category = strings.TrimSpace(resp.Category)
	if resp.Summary == "" {
		return storyResponse{}, errEmptySummary
	}
	return resp, nil
}

func fallbackSummaryText(s model.Story) string {
	return fmt.Sprintf("%s - A trending story on HackerNews with %d points and %d comments.",
		s.Title, s.Score, s.CommentCount)
}

func fallbackOverviewText(count int) string {
	return fmt.Sprintf("Today's digest includes %d trending tech stories covering various aspects of the technology industry.", count)
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
