// Package source はストーリー提供元から候補ストーリーを取得し、トレンド順に選定する。
// Hacker News の Firebase API と RSS フィードの2種類の提供元を扱う。
package source

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hitoshi/techdigest/internal/model"
)

// Provider はストーリー提供元のインターフェース。
type Provider interface {
	// FetchCandidates は提供元の順序で最大maxCount件の候補を返す。
	// 個別記事の取得失敗はその記事を除外するのみで、全体は失敗しない。
	// 提供元全体が利用できない場合は model.ErrProviderUnavailable をラップしたエラーを返す。
	FetchCandidates(ctx context.Context, maxCount int) ([]model.Story, error)

	// FetchTrending はhoursBack時間以内に投稿された候補をスコア降順で最大limit件返す。
	// フィルタでの脱落を見越して、内部ではlimitより多くの候補を取得する。
	FetchTrending(ctx context.Context, limit, hoursBack int) ([]model.Story, error)
}

const (
	// minCandidatePool はトレンド選定時に取得する候補数の下限。
	minCandidatePool = 50
	// maxCandidatePool は提供元が返す上位ストーリーIDの最大件数。
	maxCandidatePool = 500

	userAgent = "TechDigest/1.0 (+https://github.com/hitoshi/techdigest)"
)

// CandidatePoolSize はlimit件のトレンドを選ぶために取得する候補数を返す。
func CandidatePoolSize(limit int) int {
	n := max(limit*2, minCandidatePool)
	return min(n, maxCandidatePool)
}

// SelectTrending は投稿時刻がnow-hoursBack以降のストーリーをスコア降順に並べ、先頭limit件を返す。
// 同点の場合は入力順を維持する。
func SelectTrending(stories []model.Story, limit, hoursBack int, now time.Time) []model.Story {
	cutoff := now.Unix() - int64(hoursBack)*3600
	recent := make([]model.Story, 0, len(stories))
	for _, s := range stories {
		if s.CreatedAt >= cutoff {
			recent = append(recent, s)
		}
	}
	return RankByScore(recent, limit)
}

// RankByScore はスコア降順に安定ソートしたコピーの先頭limit件を返す。
// 入力スライスは変更しない。limitが負の場合は切り詰めない。
func RankByScore(stories []model.Story, limit int) []model.Story {
	ranked := slices.Clone(stories)
	slices.SortStableFunc(ranked, func(a, b model.Story) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
