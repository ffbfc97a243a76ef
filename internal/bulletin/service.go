// Package bulletin はダッシュボードに表示する院内のお知らせをRSS/Atomフィードから取得する。
package bulletin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/security"
)

const (
	// maxFeedSize はフィード本文の最大サイズ（2MB）。
	maxFeedSize = 2 << 20
	userAgent   = "carelink/1.0 bulletin"
)

// URLValidator はフィードURLの安全性を検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Config はお知らせ取得の設定。
type Config struct {
	FeedURL    string
	TTL        time.Duration
	MaxEntries int
}

// Service はお知らせフィードを取得し、TTLの間キャッシュする。
// 取得に失敗した場合は前回のキャッシュを維持し、失敗が続くほど再取得の間隔を空ける。
// 取得は同時に1つだけ行い、その間の呼び出しはキャッシュを待たずに返す。
type Service struct {
	config     Config
	httpClient *http.Client
	validator  URLValidator
	sanitizer  security.Sanitizer
	logger     *slog.Logger
	now        func() time.Time

	mu                sync.Mutex
	entries           []model.BulletinEntry
	nextFetchAt       time.Time
	consecutiveErrors int
	etag              string
	lastModified      string
	refreshing        bool
}

// fetchOutcome は1回の取得結果。notModifiedの場合entriesは空。
type fetchOutcome struct {
	entries      []model.BulletinEntry
	etag         string
	lastModified string
	notModified  bool
}

// NewService はServiceを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すこと。
func NewService(config Config, httpClient *http.Client, validator URLValidator, sanitizer security.Sanitizer, logger *slog.Logger) *Service {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:     config,
		httpClient: httpClient,
		validator:  validator,
		sanitizer:  sanitizer,
		logger:     logger,
		now:        time.Now,
		entries:    []model.BulletinEntry{},
	}
}

// Latest は最新のお知らせを返す。キャッシュがTTLを過ぎている場合は再取得する。
// 他のリクエストが取得中の場合は現在のキャッシュを返す。
// フィードURLが未設定の場合は常に空の一覧を返す。
func (s *Service) Latest(ctx context.Context) []model.BulletinEntry {
	if s.config.FeedURL == "" {
		return []model.BulletinEntry{}
	}

	s.mu.Lock()
	if s.refreshing || s.now().Before(s.nextFetchAt) {
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out
	}
	s.refreshing = true
	etag, lastModified := s.etag, s.lastModified
	s.mu.Unlock()

	result, err := s.fetch(ctx, etag, lastModified)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = false
	s.applyLocked(result, err)
	return s.snapshotLocked()
}

// applyLocked は取得結果をキャッシュと再取得時刻に反映する。
// 呼び出し元のキャンセルによる中断は取得しなかったものとして扱う。
func (s *Service) applyLocked(result fetchOutcome, err error) {
	now := s.now()
	switch {
	case err == nil:
		s.consecutiveErrors = 0
		s.nextFetchAt = now.Add(s.config.TTL)
		if result.notModified {
			return
		}
		s.entries = result.entries
		s.etag = result.etag
		s.lastModified = result.lastModified
		s.logger.Info("お知らせフィードを更新しました",
			slog.String("feed_url", s.config.FeedURL),
			slog.Int("entry_count", len(s.entries)),
		)

	case errors.Is(err, context.Canceled):
		s.logger.Debug("お知らせフィードの取得が中断されました", slog.String("feed_url", s.config.FeedURL))

	default:
		s.consecutiveErrors++
		delay := backoffDelay(s.config.TTL, s.consecutiveErrors, err)
		s.nextFetchAt = now.Add(delay)
		s.logger.Warn("お知らせフィードの取得に失敗しました。前回の内容を使用します",
			slog.String("feed_url", s.config.FeedURL),
			slog.String("error", err.Error()),
			slog.Int("consecutive_errors", s.consecutiveErrors),
			slog.Duration("retry_after", delay),
		)
	}
}

func (s *Service) snapshotLocked() []model.BulletinEntry {
	out := make([]model.BulletinEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// fetch はフィードを取得して変換する。キャッシュには触れない。
func (s *Service) fetch(ctx context.Context, etag, lastModified string) (fetchOutcome, error) {
	// 1. SSRF検証
	if s.validator != nil {
		if err := s.validator.ValidateURL(s.config.FeedURL); err != nil {
			return fetchOutcome{}, fmt.Errorf("feed URL rejected: %w", err)
		}
	}

	// 2. 条件付きGET
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.FeedURL, nil)
	if err != nil {
		return fetchOutcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fetchOutcome{}, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	switch classifyStatus(resp.StatusCode) {
	case fetchNotModified:
		s.logger.Debug("お知らせフィードは未変更です（304）", slog.String("feed_url", s.config.FeedURL))
		return fetchOutcome{notModified: true}, nil
	case fetchGone:
		return fetchOutcome{}, fmt.Errorf("%w: status %d", errFeedGone, resp.StatusCode)
	case fetchRetry:
		return fetchOutcome{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return fetchOutcome{}, fmt.Errorf("failed to read feed: %w", err)
	}

	// 3. パース
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return fetchOutcome{}, fmt.Errorf("failed to parse feed: %w", err)
	}

	return fetchOutcome{
		entries:      s.convert(feed.Items),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// convert はフィード項目をお知らせに変換し、公開日時の新しい順に最大MaxEntries件返す。
// タイトルと要約は全てのタグを除去する。リンクは検証に通ったもののみ残す。
func (s *Service) convert(items []*gofeed.Item) []model.BulletinEntry {
	entries := make([]model.BulletinEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		title := strings.TrimSpace(s.sanitizer.Sanitize(item.Title))
		if title == "" {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		entry := model.BulletinEntry{
			Title:   title,
			Summary: strings.TrimSpace(s.sanitizer.Sanitize(summary)),
		}
		if item.Link != "" && (s.validator == nil || s.validator.ValidateURL(item.Link) == nil) {
			entry.Link = item.Link
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			entry.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := item.UpdatedParsed.UTC()
			entry.PublishedAt = &t
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].PublishedAt, entries[j].PublishedAt
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.After(*b)
	})

	if len(entries) > s.config.MaxEntries {
		entries = entries[:s.config.MaxEntries]
	}
	return entries
}
