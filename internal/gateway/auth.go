package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/bffgate/internal/auditlog"
	"github.com/nao1215/bffgate/internal/config"
	"github.com/nao1215/bffgate/pkg/apierror"
	"github.com/nao1215/bffgate/pkg/contract"
	"github.com/nao1215/bffgate/pkg/event"
	"github.com/nao1215/bffgate/pkg/httpclient"
)

// 認証サービスのエンドポイント。
const (
	upstreamLoginPath  = "/auth/login"
	upstreamLogoutPath = "/auth/logout"
)

// loginResult は認証サービスが返すログイン結果。
type loginResult struct {
	// Token は上流が発行した認証情報。
	Token string `json:"token"`
	// UserID は認証された主体のID。
	UserID string `json:"user_id"`
}

// loginResponse はクライアントに返すログイン結果。認証情報そのものは含めない。
type loginResponse struct {
	// CSRFToken は状態変更リクエストのヘッダーに載せるトークン。
	CSRFToken string `json:"csrf_token"`
	// SubjectID は認証された主体のID。
	SubjectID string `json:"subject_id"`
	// ExpiresAt はセッションの失効日時。
	ExpiresAt time.Time `json:"expires_at"`
	// TTLSeconds はセッションの寿命（秒）。
	TTLSeconds int64 `json:"ttl_seconds"`
}

// sessionResponse はセッション照会の結果。
type sessionResponse struct {
	// Authenticated は有効なセッションがあるかどうか。
	Authenticated bool `json:"authenticated"`
	// SubjectID は主体のID。未認証ならnull。
	SubjectID *string `json:"subject_id"`
}

// handleLogin はログインを処理するハンドラを返す。
// 資格情報を認証サービスと交換し、成功したら3つのCookieを発行する。
func (s *Server) handleLogin() gin.HandlerFunc {
	auth := s.clients[config.ServiceAuth]
	return func(c *gin.Context) {
		raw, err := readBody(c)
		if err != nil {
			s.loginFailed(c, "", err)
			return
		}
		input, err := contract.ValidateInput(raw, loginInput)
		if err != nil {
			s.loginFailed(c, "", err)
			return
		}
		username, _ := input["username"].(string)

		resp, err := auth.Do(c.Request.Context(), httpclient.Request{
			Method: http.MethodPost,
			Path:   upstreamLoginPath,
			Body:   json.RawMessage(raw),
		})
		if err != nil {
			s.loginFailed(c, username, err)
			return
		}
		value, err := contract.ValidateOutput(resp.Body, resp.Raw, loginOutput)
		if err != nil {
			log.Printf("[ContractViolation] ログイン応答が不正: service=%s error=%v", auth.Service(), err)
			s.loginFailed(c, username, err)
			return
		}
		result, err := contract.Decode[loginResult](value)
		if err != nil {
			s.loginFailed(c, username, apierror.Internal("ログイン応答の変換に失敗しました", err))
			return
		}

		issued, err := s.sessions.Issue(c, result.Token, result.UserID)
		if err != nil {
			s.loginFailed(c, username, apierror.Internal("セッションの発行に失敗しました", err))
			return
		}

		src := s.source(c)
		src.SubjectID = result.UserID
		auditlog.Emit(c.Request.Context(), s.audit, event.TypeLoginSucceeded, src, event.LoginSucceededData{
			TTLSeconds: int64(issued.TTL / time.Second),
		})

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, loginResponse{
			CSRFToken:  issued.AntiForgeryToken,
			SubjectID:  result.UserID,
			ExpiresAt:  issued.ExpiresAt.UTC(),
			TTLSeconds: int64(issued.TTL / time.Second),
		})
	}
}

// loginFailed はログイン失敗を記録して応答する。
func (s *Server) loginFailed(c *gin.Context, username string, err error) {
	apiErr := apierror.From(err)
	if apiErr.Kind == apierror.KindContractViolation {
		auditlog.Emit(c.Request.Context(), s.audit, event.TypeContractViolation, s.source(c), event.ContractViolationData{
			Route:   "login",
			Service: config.ServiceAuth,
			Fields:  issueFields(apiErr.Issues),
		})
	}
	auditlog.Emit(c.Request.Context(), s.audit, event.TypeLoginFailed, s.source(c), event.LoginFailedData{
		Username:   username,
		Kind:       string(apiErr.Kind),
		StatusCode: apiErr.StatusCode,
	})
	apierror.Abort(c, apiErr)
}

// handleLogout はログアウトを処理するハンドラを返す。
// 認証情報があれば上流に通知するが、その成否にかかわらずCookieは必ず破棄する。
func (s *Server) handleLogout() gin.HandlerFunc {
	auth := s.clients[config.ServiceAuth]
	return func(c *gin.Context) {
		src := s.source(c)
		if credential, ok := s.sessions.Read(c); ok {
			header := http.Header{}
			header.Set("Authorization", "Bearer "+credential)
			if err := auth.PostJSON(c.Request.Context(), upstreamLogoutPath, header, nil, nil); err != nil {
				log.Printf("[Auth] 上流へのログアウト通知に失敗（Cookieは破棄します）: error=%v", err)
			}
		}

		s.sessions.Clear(c)
		auditlog.Emit(c.Request.Context(), s.audit, event.TypeLoggedOut, src, struct{}{})

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{"logged_out": true})
	}
}

// handleSession はセッション状態を返すハンドラを返す。Cookieのみから判定し、上流は呼ばない。
func (s *Server) handleSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := sessionResponse{}
		if credential, ok := s.sessions.Read(c); ok && s.sessions.IsAuthenticated(credential) {
			res.Authenticated = true
			if subjectID, ok := s.sessions.SubjectID(c); ok {
				res.SubjectID = &subjectID
			}
		}

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, res)
	}
}

// issueFields は検証エラーのフィールド名を取り出す。
func issueFields(issues []apierror.Issue) []string {
	fields := make([]string, 0, len(issues))
	for _, is := range issues {
		fields = append(fields, is.Field)
	}
	return fields
}
