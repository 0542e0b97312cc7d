package middleware

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/bffgate/pkg/apierror"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時は内容をログに出力し、正規化エラー（internal_error）を返す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				apierror.Abort(c, apierror.Internal("内部サーバーエラーが発生しました", fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}
