// Package session はブラウザセッションを表すCookieの発行・読み取り・破棄を行う。
//
// ゲートウェイはセッションストアを持たない。認証情報（上流が発行した署名付きトークン）を
// 格納したHttpOnly Cookieそのものがセッションであり、リクエストごとに解釈される。
// CSRF対策用のトークンはスクリプトから読めるCookieとして別に発行する。
package session

import (
	"crypto/rand"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultCredentialCookie は認証情報を格納するCookie名の既定値。
	DefaultCredentialCookie = "session_credential"
	// DefaultSubjectCookie は認証済み主体のIDを格納するCookie名の既定値。
	DefaultSubjectCookie = "session_subject_id"
	// DefaultAntiForgeryCookie はCSRFトークンを格納するCookie名の既定値。
	DefaultAntiForgeryCookie = "anti_forgery"

	// DefaultMaxTTL はセッション寿命の上限。
	DefaultMaxTTL = 24 * time.Hour
	// DefaultTTL は有効期限クレームが読めない、または過去の場合の寿命。
	DefaultTTL = 15 * time.Minute
)

// ErrEmptyCredential は空の認証情報でセッションを発行しようとした場合のエラー。
var ErrEmptyCredential = errors.New("認証情報が空です")

// ErrEmptySubject は空の主体IDでセッションを発行しようとした場合のエラー。
var ErrEmptySubject = errors.New("主体IDが空です")

// Config はセッションCookieの設定。
type Config struct {
	// CredentialCookie は認証情報Cookieの名前。
	CredentialCookie string
	// SubjectCookie は主体ID Cookieの名前。
	SubjectCookie string
	// AntiForgeryCookie はCSRFトークンCookieの名前。
	AntiForgeryCookie string
	// Secure はCookieにSecure属性を付けるかどうか。本番環境では true にする。
	Secure bool
	// Domain はCookieのDomain属性。空ならホスト限定。
	Domain string
	// MaxTTL はセッション寿命の上限。
	MaxTTL time.Duration
	// DefaultTTL は有効期限が判定できない場合の寿命。
	DefaultTTL time.Duration
}

// Issued は発行したセッションの情報。認証情報そのものは含まない。
type Issued struct {
	// AntiForgeryToken はクライアントへ一度だけ返すCSRFトークン。
	AntiForgeryToken string
	// TTL はCookieに設定した寿命。
	TTL time.Duration
	// ExpiresAt はセッションの失効日時。
	ExpiresAt time.Time
}

// Manager はセッションCookieを管理する。状態を持たないため並行利用できる。
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager は新しいManagerを生成する。未設定の項目には既定値を用いる。
func NewManager(cfg Config) *Manager {
	if cfg.CredentialCookie == "" {
		cfg.CredentialCookie = DefaultCredentialCookie
	}
	if cfg.SubjectCookie == "" {
		cfg.SubjectCookie = DefaultSubjectCookie
	}
	if cfg.AntiForgeryCookie == "" {
		cfg.AntiForgeryCookie = DefaultAntiForgeryCookie
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	return &Manager{cfg: cfg, now: time.Now}
}

// WithClock は時刻取得関数を差し替えたManagerを返す。テスト用。
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

// Config はManagerの設定を返す。
func (m *Manager) Config() Config {
	return m.cfg
}

// Issue は認証情報・主体ID・CSRFトークンの3つのCookieを書き込み、CSRFトークンを返す。
func (m *Manager) Issue(c *gin.Context, credential, subjectID string) (Issued, error) {
	if credential == "" {
		return Issued{}, ErrEmptyCredential
	}
	if subjectID == "" {
		return Issued{}, ErrEmptySubject
	}

	ttl := m.TTL(credential)
	token := rand.Text()

	m.setCookie(c, m.cfg.CredentialCookie, credential, ttl, true)
	m.setCookie(c, m.cfg.SubjectCookie, subjectID, ttl, true)
	// CSRFトークンはクライアントのスクリプトがヘッダーへ転記するため HttpOnly にしない
	m.setCookie(c, m.cfg.AntiForgeryCookie, token, ttl, false)

	return Issued{
		AntiForgeryToken: token,
		TTL:              ttl,
		ExpiresAt:        m.now().Add(ttl),
	}, nil
}

// Clear は3つのCookieを空値・寿命0で上書きする。セッションが無くても安全に呼び出せる。
func (m *Manager) Clear(c *gin.Context) {
	for _, name := range []string{m.cfg.CredentialCookie, m.cfg.SubjectCookie} {
		m.expireCookie(c, name, true)
	}
	m.expireCookie(c, m.cfg.AntiForgeryCookie, false)
}

// Read は認証情報Cookieの値を返す。有効性は判定しない。
func (m *Manager) Read(c *gin.Context) (string, bool) {
	return readCookie(c, m.cfg.CredentialCookie)
}

// SubjectID は主体ID Cookieの値を返す。
func (m *Manager) SubjectID(c *gin.Context) (string, bool) {
	return readCookie(c, m.cfg.SubjectCookie)
}

// AntiForgeryToken はCSRFトークンCookieの値を返す。
func (m *Manager) AntiForgeryToken(c *gin.Context) (string, bool) {
	return readCookie(c, m.cfg.AntiForgeryCookie)
}

// IsAuthenticated は認証情報が存在し、かつ有効期限が読めないか未来である場合に true を返す。
// 期限切れが確認できた認証情報は未認証として扱う。
func (m *Manager) IsAuthenticated(credential string) bool {
	if credential == "" {
		return false
	}
	exp, ok := ExpiryClaim(credential)
	if !ok {
		return true
	}
	return exp.After(m.now())
}

// TTL は認証情報の有効期限クレームからCookieの寿命を求める。
// 期限が未来なら min(期限-現在, MaxTTL)、読めないか過去なら DefaultTTL を返す。
func (m *Manager) TTL(credential string) time.Duration {
	exp, ok := ExpiryClaim(credential)
	if !ok {
		return m.cfg.DefaultTTL
	}
	remaining := exp.Sub(m.now())
	if remaining <= 0 {
		return m.cfg.DefaultTTL
	}
	return min(remaining, m.cfg.MaxTTL)
}

// ExpiryClaim は認証情報（JWT）の exp クレームを署名検証なしで読み取る。
// 署名の検証は発行元である上流サービスの責務であり、ゲートウェイは期限のみを参照する。
func ExpiryClaim(credential string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (m *Manager) setCookie(c *gin.Context, name, value string, ttl time.Duration, httpOnly bool) {
	maxAge := int(ttl.Round(time.Second) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Path:     "/",
		Domain:   m.cfg.Domain,
		MaxAge:   maxAge,
		Expires:  m.now().Add(ttl),
		Secure:   m.cfg.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteStrictMode,
	})
}

func (m *Manager) expireCookie(c *gin.Context, name string, httpOnly bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.cfg.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteStrictMode,
	})
}

// readCookie はCookieを読み取る。値が空の場合は存在しないものとして扱う。
func readCookie(c *gin.Context, name string) (string, bool) {
	value, err := c.Cookie(name)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}
