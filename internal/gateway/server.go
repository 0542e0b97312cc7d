package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/bffgate/internal/auditlog"
	"github.com/nao1215/bffgate/internal/config"
	"github.com/nao1215/bffgate/pkg/event"
	"github.com/nao1215/bffgate/pkg/httpclient"
	"github.com/nao1215/bffgate/pkg/middleware"
	"github.com/nao1215/bffgate/pkg/session"
)

// csrfExemptPatterns はセッション確立前に呼ばれるためCSRF検証を免除するパス。
var csrfExemptPatterns = []string{`/api/auth/login`}

// csrfSessionlessPatterns は認証情報Cookieが無い場合に限りCSRF検証を免除するパス。
// セッションを持つクライアントのログアウトはトークンを要求する。
var csrfSessionlessPatterns = []string{`/api/auth/logout`}

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg *config.Config
	// sessions はセッションCookieの管理。
	sessions *session.Manager
	// clients は論理サービス名ごとのプロキシクライアント。
	clients map[string]*httpclient.Client
	// routes は中継するルートの一覧。
	routes []Route
	// audit は監査イベントの記録先。
	audit auditlog.Recorder
	// closeAudit は監査ログの保存先を閉じる関数。
	closeAudit func() error
}

// NewServer は設定から新しいゲートウェイサーバーを生成する。
// AuditDBPath が設定されていればSQLiteの監査ログを開く。
func NewServer(cfg *config.Config) (*Server, error) {
	var recorder auditlog.Recorder = auditlog.Nop{}
	closeAudit := func() error { return nil }
	if cfg.AuditDBPath != "" {
		store, err := auditlog.Open(context.Background(), cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("監査ログの初期化に失敗: %w", err)
		}
		recorder, closeAudit = store, store.Close
	}

	s, err := newServer(cfg, recorder, DefaultRoutes())
	if err != nil {
		_ = closeAudit()
		return nil, err
	}
	s.closeAudit = closeAudit
	return s, nil
}

// newServer は監査ログの記録先とルート一覧を指定してサーバーを生成する。
func newServer(cfg *config.Config, recorder auditlog.Recorder, routes []Route) (*Server, error) {
	clients := make(map[string]*httpclient.Client)
	for _, name := range cfg.Upstreams.Names() {
		u, _ := cfg.Upstreams.Lookup(name)
		clients[name] = httpclient.New(u.ClientConfig())
	}
	if _, ok := clients[config.ServiceAuth]; !ok {
		return nil, fmt.Errorf("上流サービス %q が設定されていません", config.ServiceAuth)
	}
	for _, rt := range routes {
		if _, ok := clients[rt.Service]; !ok {
			return nil, fmt.Errorf("ルート %q の上流サービス %q が設定されていません", rt.Name, rt.Service)
		}
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.FrontendOrigins, cfg.CSRFHeader))

	s := &Server{
		router: router,
		cfg:    cfg,
		sessions: session.NewManager(session.Config{
			CredentialCookie:  cfg.CredentialCookie,
			SubjectCookie:     cfg.SubjectCookie,
			AntiForgeryCookie: cfg.AntiForgeryCookie,
			Secure:            cfg.SecureCookies(),
			Domain:            cfg.CookieDomain,
			MaxTTL:            cfg.MaxSessionTTL,
			DefaultTTL:        cfg.DefaultSessionTTL,
		}),
		clients:    clients,
		routes:     routes,
		audit:      recorder,
		closeAudit: func() error { return nil },
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.cfg.Port))
}

// Handler はルーターを http.Handler として返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close は監査ログの保存先を閉じる。
func (s *Server) Close() error {
	return s.closeAudit()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.Use(middleware.CSRF(middleware.CSRFConfig{
		Namespace:           "/api",
		CookieName:          s.sessions.Config().AntiForgeryCookie,
		HeaderName:          s.cfg.CSRFHeader,
		ExemptPatterns:      csrfExemptPatterns,
		SessionlessPatterns: csrfSessionlessPatterns,
		SessionCookie:       s.sessions.Config().CredentialCookie,
		OnReject: func(c *gin.Context, reason middleware.RejectReason) {
			auditlog.Emit(c.Request.Context(), s.audit, event.TypeCSRFRejected, s.source(c), event.CSRFRejectedData{Reason: string(reason)})
		},
	}))
	{
		auth := api.Group("/auth")
		{
			// ログイン（上流の認証サービスと交換してCookieを発行する）
			auth.POST("/login", s.handleLogin())
			// ログアウト（上流への通知は失敗しても無視し、Cookieは必ず破棄する）
			auth.POST("/logout", s.handleLogout())
			// セッション状態の照会
			auth.GET("/session", s.handleSession())
		}

		protected := api.Group("")
		protected.Use(middleware.RequireSession(s.sessions))
		for _, rt := range s.routes {
			if rt.Public {
				api.Handle(rt.Method, rt.Path, s.handleRoute(rt))
				continue
			}
			protected.Handle(rt.Method, rt.Path, s.handleRoute(rt))
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// source は監査イベントの発生元となるリクエスト情報を返す。
func (s *Server) source(c *gin.Context) event.Source {
	subjectID := middleware.GetSubjectID(c)
	if subjectID == "" {
		subjectID, _ = s.sessions.SubjectID(c)
	}
	return event.Source{
		SubjectID: subjectID,
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		RequestID: httpclient.RequestIDFrom(c.Request.Context()),
	}
}
