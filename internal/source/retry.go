package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// statusClass はHTTPステータスコードの分類。
type statusClass int

const (
	statusOK statusClass = iota
	// statusRetryable は再試行で回復しうるステータス（429/5xx）。
	statusRetryable
	// statusPermanent は再試行しても結果が変わらないステータス。
	statusPermanent
)

func classifyStatus(code int) statusClass {
	switch {
	case code == http.StatusOK:
		return statusOK
	case code == http.StatusTooManyRequests, code >= 500:
		return statusRetryable
	default:
		return statusPermanent
	}
}

// defaultRetryDelays は一覧取得の再試行間隔。要素数が再試行回数になる。
var defaultRetryDelays = []time.Duration{500 * time.Millisecond, 2 * time.Second}

// StatusError は提供元が200以外を返したことを示す。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// httpFetcher は提供元へのGETリクエストを実行する。
type httpFetcher struct {
	client      *http.Client
	logger      *slog.Logger
	maxBodySize int64
	retryDelays []time.Duration
}

// get はurlを取得してボディを返す。
// retryがtrueの場合、通信エラーと429/5xxに対してretryDelaysの間隔で再試行する。
func (f *httpFetcher) get(ctx context.Context, url, accept string, retry bool) ([]byte, error) {
	attempts := 1
	if retry {
		attempts += len(f.retryDelays)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := f.retryDelays[attempt-1]
			f.logger.Warn("提供元への再試行を待機します",
				slog.String("url", url),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, retryable, err := f.do(ctx, url, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (f *httpFetcher) do(ctx context.Context, url, accept string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch classifyStatus(resp.StatusCode) {
	case statusOK:
	case statusRetryable:
		return nil, true, &StatusError{URL: url, StatusCode: resp.StatusCode}
	default:
		return nil, false, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, true, fmt.Errorf("reading body of %s: %w", url, err)
	}
	return body, false, nil
}
