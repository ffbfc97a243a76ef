package bulletin

import (
	"errors"
	"net/http"
	"time"
)

// maxBackoff は取得失敗が続いた場合の再取得間隔の上限（6時間）。
const maxBackoff = 6 * time.Hour

// errFeedGone はフィードが存在しない、または参照を拒否されたことを表す。
// 一時的な障害ではないため、最大間隔まで再取得を控える。
var errFeedGone = errors.New("feed gone")

// fetchResult はHTTPステータスコードに基づく取得結果の分類。
type fetchResult int

const (
	fetchOK fetchResult = iota
	fetchNotModified
	fetchGone
	fetchRetry
)

// classifyStatus はHTTPステータスコードを取得結果に分類する。
func classifyStatus(statusCode int) fetchResult {
	switch {
	case statusCode == http.StatusOK:
		return fetchOK
	case statusCode == http.StatusNotModified:
		return fetchNotModified
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone,
		statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fetchGone
	default:
		return fetchRetry
	}
}

// backoffDelay は連続失敗回数に基づいて次の取得までの間隔を計算する。
// 1回目の失敗はttl、以降2倍ずつ増加し、maxBackoffで頭打ちになる。
// ttlがmaxBackoffを超える場合はttlを返す。
func backoffDelay(ttl time.Duration, consecutiveErrors int, err error) time.Duration {
	if ttl >= maxBackoff {
		return ttl
	}
	if errors.Is(err, errFeedGone) {
		return maxBackoff
	}
	delay := ttl
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
