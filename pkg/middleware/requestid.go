package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/bffgate/pkg/httpclient"
)

// headerKeyRequestID はリクエストIDを運ぶHTTPヘッダーキー。
const headerKeyRequestID = "X-Request-ID"

// maxRequestIDLength はクライアントから受け入れるリクエストIDの最大長。
const maxRequestIDLength = 128

// RequestID はリクエストIDを割り当てるGinミドルウェアを返す。
// クライアントが送ったIDがあれば引き継ぎ、無ければUUIDを発行する。
// IDはレスポンスヘッダーに付与され、上流呼び出しにも伝播される。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerKeyRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		c.Header(headerKeyRequestID, requestID)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
