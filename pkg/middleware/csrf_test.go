package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
)

// テスト用のCookie名。
const (
	testCSRFCookie    = "anti_forgery"
	testSessionCookie = "session_credential"
)

// csrfFixture はCSRFミドルウェアのテスト用ルーターと、ハンドラ到達回数・拒否理由を保持する。
type csrfFixture struct {
	router  *gin.Engine
	reached atomic.Int32
	reasons []RejectReason
}

// newCSRFFixture はCSRFミドルウェアを適用したテスト用ルーターを生成する。
// どのパスに対してもハンドラに到達した回数を記録する。
func newCSRFFixture(t *testing.T) *csrfFixture {
	t.Helper()

	f := &csrfFixture{router: gin.New()}
	f.router.Use(CSRF(CSRFConfig{
		CookieName:          testCSRFCookie,
		ExemptPatterns:      []string{`/api/auth/login`, `/api/public/[a-z]+`},
		SessionlessPatterns: []string{`/api/auth/logout`},
		SessionCookie:       testSessionCookie,
		OnReject: func(_ *gin.Context, reason RejectReason) {
			f.reasons = append(f.reasons, reason)
		},
	}))
	f.router.NoRoute(func(c *gin.Context) {
		f.reached.Add(1)
		c.JSON(http.StatusOK, gin.H{"result": "ok"})
	})
	return f
}

// send はCookieとヘッダーを指定してリクエストを送信する。空文字列の場合は付与しない。
func (f *csrfFixture) send(method, target, cookie, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: testCSRFCookie, Value: cookie})
	}
	if header != "" {
		req.Header.Set(DefaultCSRFHeader, header)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// TestCSRF はCSRFミドルウェアの判定を検証する。
func TestCSRF(t *testing.T) {
	t.Parallel()

	t.Run("CookieとヘッダーのトークンがPOSTで一致すれば通過すること", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		w := f.send(http.MethodPost, "/api/billpay/payments", "token-abc", "token-abc")

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if f.reached.Load() != 1 {
			t.Errorf("ハンドラ到達回数 = %d, want 1", f.reached.Load())
		}
	})

	rejected := []struct {
		name   string
		method string
		cookie string
		header string
		reason RejectReason
	}{
		{name: "ヘッダーが無い場合", method: http.MethodPost, cookie: "token-abc", header: "", reason: RejectMissingHeader},
		{name: "Cookieが無い場合", method: http.MethodPut, cookie: "", header: "token-abc", reason: RejectMissingCookie},
		{name: "両方無い場合", method: http.MethodDelete, cookie: "", header: "", reason: RejectMissingCookie},
		{name: "値が異なる場合", method: http.MethodPatch, cookie: "token-abc", header: "token-abd", reason: RejectMismatch},
		{name: "ヘッダーが前方一致するだけの場合", method: http.MethodPost, cookie: "token-abc", header: "token-ab", reason: RejectMismatch},
		{name: "ヘッダーが余分な文字を含む場合", method: http.MethodPost, cookie: "token-abc", header: "token-abcd", reason: RejectMismatch},
		{name: "大文字小文字だけが異なる場合", method: http.MethodPost, cookie: "token-abc", header: "TOKEN-ABC", reason: RejectMismatch},
	}
	for _, tc := range rejected {
		t.Run(tc.name+"は403で拒否されハンドラに到達しないこと", func(t *testing.T) {
			t.Parallel()

			f := newCSRFFixture(t)
			w := f.send(tc.method, "/api/payments/transfers", tc.cookie, tc.header)

			if w.Code != http.StatusForbidden {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
			}
			if f.reached.Load() != 0 {
				t.Errorf("ハンドラ到達回数 = %d, want 0", f.reached.Load())
			}
			if len(f.reasons) != 1 || f.reasons[0] != tc.reason {
				t.Errorf("拒否理由 = %v, want [%s]", f.reasons, tc.reason)
			}

			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("レスポンスのパースに失敗: %v", err)
			}
			if body["kind"] != "forbidden" {
				t.Errorf("kind = %v, want %q", body["kind"], "forbidden")
			}
			if body["status_code"] != float64(http.StatusForbidden) {
				t.Errorf("status_code = %v", body["status_code"])
			}
		})
	}

	t.Run("読み取り系メソッドは検証しないこと", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
			w := f.send(method, "/api/retailer/profile", "", "")
			if w.Code != http.StatusOK {
				t.Errorf("%s ステータスコード = %d, want %d", method, w.Code, http.StatusOK)
			}
		}
	})

	t.Run("名前空間外のパスは検証しないこと", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		for _, target := range []string{"/health", "/apis/x", "/static/api/x"} {
			w := f.send(http.MethodPost, target, "", "")
			if w.Code != http.StatusOK {
				t.Errorf("%s ステータスコード = %d, want %d", target, w.Code, http.StatusOK)
			}
		}
	})

	t.Run("名前空間そのものは検証対象であること", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		if w := f.send(http.MethodPost, "/api", "", ""); w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestCSRF_Exemptions は免除パターンの狭さを検証する。
func TestCSRF_Exemptions(t *testing.T) {
	t.Parallel()

	exempt := []string{
		"/api/auth/login",
		"/api/auth/login/",
		"/api/auth//login",
		"/api/auth/./login",
		"/api/public/rates",
	}
	for _, target := range exempt {
		t.Run(target+"は免除されること", func(t *testing.T) {
			t.Parallel()

			f := newCSRFFixture(t)
			if w := f.send(http.MethodPost, target, "", ""); w.Code != http.StatusOK {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}

	enforced := []string{
		"/api/auth/login/extra",
		"/api/auth/login-admin",
		"/api/auth/loginx",
		"/api/v2/auth/login",
		"/api/auth/login/../session",
		"/api/public/rates/1",
		"/api/public/RATES",
	}
	for _, target := range enforced {
		t.Run(target+"は検証されること", func(t *testing.T) {
			t.Parallel()

			f := newCSRFFixture(t)
			w := f.send(http.MethodPost, target, "", "")
			if w.Code != http.StatusForbidden {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
			}
			if f.reached.Load() != 0 {
				t.Errorf("ハンドラ到達回数 = %d, want 0", f.reached.Load())
			}
		})
	}
}

// TestCSRF_SessionlessExemptions はセッションCookieの有無で免除が切り替わることを検証する。
func TestCSRF_SessionlessExemptions(t *testing.T) {
	t.Parallel()

	// sendWithSession はセッションCookieを付けてリクエストを送信する。
	sendWithSession := func(f *csrfFixture, session, cookie, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: testSessionCookie, Value: session})
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: testCSRFCookie, Value: cookie})
		}
		if header != "" {
			req.Header.Set(DefaultCSRFHeader, header)
		}
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}

	t.Run("セッションCookieが無ければトークン無しで通過すること", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		for _, target := range []string{"/api/auth/logout", "/api/auth/logout/", "/api/auth//logout"} {
			if w := f.send(http.MethodPost, target, "", ""); w.Code != http.StatusOK {
				t.Errorf("%s ステータスコード = %d, want %d", target, w.Code, http.StatusOK)
			}
		}
	})

	t.Run("値が空のセッションCookieはセッション無しとして扱うこと", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		if w := sendWithSession(f, "", "", ""); w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("セッションCookieがあればトークン無しは403になること", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		w := sendWithSession(f, "credential", "token-abc", "")
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
		if f.reached.Load() != 0 {
			t.Errorf("ハンドラ到達回数 = %d, want 0", f.reached.Load())
		}
		if len(f.reasons) != 1 || f.reasons[0] != RejectMissingHeader {
			t.Errorf("拒否理由 = %v, want [%s]", f.reasons, RejectMissingHeader)
		}
	})

	t.Run("セッションCookieがあってもトークンが一致すれば通過すること", func(t *testing.T) {
		t.Parallel()

		f := newCSRFFixture(t)
		if w := sendWithSession(f, "credential", "token-abc", "token-abc"); w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("セッション判定Cookie名が無い設定はパニックすること", func(t *testing.T) {
		t.Parallel()

		defer func() {
			if recover() == nil {
				t.Error("Cookie名が無い設定でパニックしなかった")
			}
		}()
		CSRF(CSRFConfig{CookieName: testCSRFCookie, SessionlessPatterns: []string{`/api/auth/logout`}})
	})
}

// TestNormalizePath はパスの正規化を検証する。
func TestNormalizePath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                 "/",
		"/":                "/",
		"/api/auth/login/": "/api/auth/login",
		"/api//auth/login": "/api/auth/login",
		"/api/./auth":      "/api/auth",
		"/api/x/../auth":   "/api/auth",
		"api/auth":         "/api/auth",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestCompileExemptPatterns は不正な免除パターンでパニックすることを検証する。
func TestCompileExemptPatterns(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("不正なパターンでパニックしなかった")
		}
	}()
	compileExemptPatterns([]string{"/api/("})
}
