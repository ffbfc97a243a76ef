package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/carelink/internal/model"
)

// DefaultNamespace は永続化キーの固定アプリケーション名前空間。
const DefaultNamespace = "carelink"

// Keys はクライアント1件分の永続化キーの組。
type Keys struct {
	Token    string
	Identity string
}

// KeysFor は名前空間とクライアントIDから永続化キーを組み立てる。
// 例: "carelink:<clientID>:token", "carelink:<clientID>:identity"
func KeysFor(namespace, clientID string) Keys {
	prefix := namespace + ":" + clientID + ":"
	return Keys{
		Token:    prefix + "token",
		Identity: prefix + "identity",
	}
}

// Options はStoreの生成オプション。
type Options struct {
	Namespace string
	Logger    *slog.Logger
	// Now は現在時刻を返す。トークンの有効期限判定に使用する。nilの場合はtime.Now。
	Now func() time.Time
	// OnRecovered は破損した永続化データを破棄したときに呼ばれる。
	OnRecovered func(reason string)
}

type subscriber struct {
	id int
	fn func(model.Session)
}

// Store はクライアント1件分のセッションを保持する。
// 変更操作はEstablishとClearのみで、識別情報とトークンは常に同時に設定・解除される。
// 複数リクエストからの同時呼び出しはミューテックスで直列化する。
type Store struct {
	mu          sync.Mutex
	storage     Storage
	clientID    string
	keys        Keys
	logger      *slog.Logger
	now         func() time.Time
	onRecovered func(reason string)

	current     model.Session
	subscribers []subscriber
	nextSubID   int
}

// Open は永続化ストレージから既存のセッションを復元してStoreを生成する。
// 永続化データが破損している場合は未認証として扱い、該当エントリを削除する（回復可能なエラー）。
// ストレージの読み取りに失敗した場合も未認証として扱い、ログに記録する。
func Open(ctx context.Context, storage Storage, clientID string, opts Options) (*Store, error) {
	if storage == nil {
		return nil, fmt.Errorf("session storage is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		storage:     storage,
		clientID:    clientID,
		keys:        KeysFor(namespace, clientID),
		logger:      logger,
		now:         now,
		onRecovered: opts.OnRecovered,
	}
	s.load(ctx)
	return s, nil
}

// ClientID はStoreが対応するクライアントIDを返す。
func (s *Store) ClientID() string {
	return s.clientID
}

// Current は現在のセッションのコピーを返す。
func (s *Store) Current() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Establish は識別情報とトークンを同時に設定し、永続化する。
// 既存のセッションは上書きされる。永続化に失敗した場合はメモリ上のセッションを変更せず、
// ErrPersistenceをラップしたエラーを返す。
// ctxが既にキャンセルされている場合は何も書き込まずに返す（放棄されたリクエストの応答を適用しない）。
func (s *Store) Establish(ctx context.Context, identity model.Identity, token string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("establish session aborted: %w", err)
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", model.ErrInvalidState)
	}
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidState, err)
	}

	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.PutMany(ctx, map[string]string{
		s.keys.Token:    token,
		s.keys.Identity: string(raw),
	}); err != nil {
		return fmt.Errorf("%w: failed to persist session: %w", model.ErrPersistence, err)
	}

	s.current = model.Session{Identity: &identity, Token: token}
	s.notifyLocked()
	return nil
}

// Clear は識別情報とトークンを同時に解除し、永続化エントリを削除する。
// 既に未認証の場合も安全に呼び出せる（冪等）。
// 永続化エントリの削除に失敗した場合もメモリ上のセッションは解除し、
// ErrPersistenceをラップしたエラーを返す。
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = model.Session{}
	err := s.storage.DeleteMany(ctx, s.keys.Token, s.keys.Identity)
	s.notifyLocked()

	if err != nil {
		return fmt.Errorf("%w: failed to delete persisted session: %w", model.ErrPersistence, err)
	}
	return nil
}

// Subscribe はEstablish/Clearのたびに呼ばれるコールバックを登録する。
// コールバックはStoreのロックを保持したまま呼ばれるため、Storeのメソッドを呼び出してはならない。
// 戻り値の関数を呼ぶと登録を解除する。
func (s *Store) Subscribe(fn func(model.Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notifyLocked() {
	snapshot := s.snapshotLocked()
	for _, sub := range s.subscribers {
		sub.fn(snapshot)
	}
}

func (s *Store) snapshotLocked() model.Session {
	if s.current.Identity == nil {
		return model.Session{}
	}
	identity := *s.current.Identity
	return model.Session{Identity: &identity, Token: s.current.Token}
}

// load は永続化ストレージからセッションを復元する。
func (s *Store) load(ctx context.Context) {
	entries, err := s.storage.GetMany(ctx, s.keys.Token, s.keys.Identity)
	if err != nil {
		s.logger.Warn("failed to load persisted session",
			slog.String("client_id", s.clientID),
			slog.String("error", fmt.Errorf("%w: %w", model.ErrPersistence, err).Error()),
		)
		return
	}

	token, hasToken := entries[s.keys.Token]
	rawIdentity, hasIdentity := entries[s.keys.Identity]
	if !hasToken && !hasIdentity {
		return
	}

	identity, reason := s.decode(token, hasToken, rawIdentity, hasIdentity)
	if reason != "" {
		s.purge(ctx, reason)
		return
	}

	s.current = model.Session{Identity: identity, Token: token}
}

// decode は永続化された値を検証し、破損理由（正常な場合は空文字列）を返す。
func (s *Store) decode(token string, hasToken bool, rawIdentity string, hasIdentity bool) (*model.Identity, string) {
	if !hasToken || !hasIdentity {
		return nil, "incomplete"
	}
	if strings.TrimSpace(token) == "" {
		return nil, "empty_token"
	}

	var identity model.Identity
	if err := json.Unmarshal([]byte(rawIdentity), &identity); err != nil {
		return nil, "malformed_identity"
	}
	if err := identity.Validate(); err != nil {
		return nil, "invalid_identity"
	}

	if tokenExpired(token, s.now()) {
		return nil, "token_expired"
	}

	return &identity, ""
}

// purge は破損した永続化エントリを削除する。
func (s *Store) purge(ctx context.Context, reason string) {
	s.logger.Warn("discarding persisted session",
		slog.String("client_id", s.clientID),
		slog.String("reason", reason),
	)

	if err := s.storage.DeleteMany(ctx, s.keys.Token, s.keys.Identity); err != nil {
		s.logger.Error("failed to purge persisted session",
			slog.String("client_id", s.clientID),
			slog.String("error", err.Error()),
		)
	}

	if s.onRecovered != nil {
		s.onRecovered(reason)
	}
}

// tokenExpired はトークンがJWTであり、expクレームが過去を指している場合にtrueを返す。
// JWTとして解析できない不透明なトークンは期限切れとみなさない。
// 署名はバックエンドが検証するため、ここでは検証しない。
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}
