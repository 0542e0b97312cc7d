package middleware

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/bffgate/pkg/apierror"
)

// DefaultCSRFHeader はクライアントがCSRFトークンを送るヘッダー名の既定値。
const DefaultCSRFHeader = "X-CSRF-Token"

// DefaultCSRFNamespace はCSRF検証の対象となるパスの接頭辞の既定値。
const DefaultCSRFNamespace = "/api"

// RejectReason はCSRF検証で拒否した理由。
type RejectReason string

const (
	// RejectMissingCookie はCSRFトークンCookieが無いことを表す。
	RejectMissingCookie RejectReason = "missing_cookie"
	// RejectMissingHeader はCSRFトークンヘッダーが無いことを表す。
	RejectMissingHeader RejectReason = "missing_header"
	// RejectMismatch はCookieとヘッダーの値が一致しないことを表す。
	RejectMismatch RejectReason = "mismatch"
)

// CSRFConfig はCSRF検証ミドルウェアの設定。
type CSRFConfig struct {
	// Namespace は検証対象のパス接頭辞。
	Namespace string
	// CookieName はCSRFトークンCookieの名前。
	CookieName string
	// HeaderName はCSRFトークンヘッダーの名前。
	HeaderName string
	// ExemptPatterns は検証を免除するパスの正規表現。パス全体に一致した場合のみ免除する。
	ExemptPatterns []string
	// SessionlessPatterns はセッションCookieが無い場合に限り検証を免除するパスの正規表現。
	// セッションCookieを持つリクエストは通常どおり検証する。
	SessionlessPatterns []string
	// SessionCookie はセッションの有無を判定するCookieの名前。SessionlessPatterns を使う場合は必須。
	SessionCookie string
	// OnReject は拒否時に呼ばれるフック。監査記録などに使う。
	OnReject func(c *gin.Context, reason RejectReason)
}

// CSRF はダブルサブミット方式でCSRFトークンを検証するGinミドルウェアを返す。
// 状態を変更するメソッドのうち、名前空間内かつ免除パターンに一致しないリクエストについて、
// CookieとヘッダーのCSRFトークンが完全一致しなければ403で中断する。
func CSRF(cfg CSRFConfig) gin.HandlerFunc {
	if len(cfg.SessionlessPatterns) > 0 && cfg.SessionCookie == "" {
		panic("CSRFのセッション判定Cookie名が未設定です")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultCSRFNamespace
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultCSRFHeader
	}
	namespace := strings.TrimRight(cfg.Namespace, "/")
	exempt := compileExemptPatterns(cfg.ExemptPatterns)
	sessionless := compileExemptPatterns(cfg.SessionlessPatterns)

	return func(c *gin.Context) {
		if !isStateChanging(c.Request.Method) {
			c.Next()
			return
		}

		p := normalizePath(c.Request.URL.Path)
		if p != namespace && !strings.HasPrefix(p, namespace+"/") {
			c.Next()
			return
		}
		for _, re := range exempt {
			if re.MatchString(p) {
				c.Next()
				return
			}
		}
		if !hasCookie(c, cfg.SessionCookie) {
			for _, re := range sessionless {
				if re.MatchString(p) {
					c.Next()
					return
				}
			}
		}

		cookieValue, _ := c.Cookie(cfg.CookieName)
		headerValue := c.GetHeader(cfg.HeaderName)

		var reason RejectReason
		switch {
		case cookieValue == "":
			reason = RejectMissingCookie
		case headerValue == "":
			reason = RejectMissingHeader
		case subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) != 1:
			reason = RejectMismatch
		default:
			c.Next()
			return
		}

		log.Printf("[CSRF] リクエストを拒否: method=%s path=%s reason=%s", c.Request.Method, p, reason)
		if cfg.OnReject != nil {
			cfg.OnReject(c, reason)
		}
		apierror.Abort(c, apierror.Forbidden("CSRFトークンが無効です"))
	}
}

// isStateChanging は状態を変更するHTTPメソッドかどうかを判定する。
func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// hasCookie は空でない値のCookieが送られているかどうかを判定する。
func hasCookie(c *gin.Context, name string) bool {
	if name == "" {
		return false
	}
	v, err := c.Cookie(name)
	return err == nil && v != ""
}

// normalizePath はパスを正規化する。末尾のスラッシュや "//"、"." による免除の迂回を防ぐ。
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned != "/" {
		cleaned = strings.TrimSuffix(cleaned, "/")
	}
	return cleaned
}

// compileExemptPatterns は免除パターンをパス全体に一致する正規表現に変換する。
// 設定値はコードまたは起動時の構成から与えられるため、不正なパターンはパニックとする。
func compileExemptPatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(fmt.Sprintf("^(?:%s)$", p))
		if err != nil {
			panic(fmt.Sprintf("CSRF免除パターンが不正です: %q: %v", p, err))
		}
		compiled = append(compiled, re)
	}
	return compiled
}
