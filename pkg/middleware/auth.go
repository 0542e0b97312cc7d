package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/nao1215/bffgate/pkg/apierror"
	"github.com/nao1215/bffgate/pkg/session"
)

// コンテキストキー。
const (
	contextKeyCredential = "credential"
	contextKeySubjectID  = "subject_id"
)

// RequireSession はセッションCookieを検証するGinミドルウェアを返す。
// 認証情報が無いか期限切れであれば、上流を呼び出さずに401で中断する。
// 検証に成功した場合、コンテキストに認証情報と主体IDを設定する。
func RequireSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, ok := sessions.Read(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("ログインが必要です"))
			return
		}
		if !sessions.IsAuthenticated(credential) {
			apierror.Abort(c, apierror.Unauthorized("セッションの有効期限が切れています"))
			return
		}

		subjectID, _ := sessions.SubjectID(c)
		c.Set(contextKeyCredential, credential)
		c.Set(contextKeySubjectID, subjectID)
		c.Next()
	}
}

// GetCredential はGinコンテキストから認証情報を取得する。
// RequireSessionミドルウェアが事前に適用されている必要がある。
func GetCredential(c *gin.Context) string {
	return c.GetString(contextKeyCredential)
}

// GetSubjectID はGinコンテキストから主体IDを取得する。
func GetSubjectID(c *gin.Context) string {
	return c.GetString(contextKeySubjectID)
}
