package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestFrom はFrom関数の変換規則を検証する。
func TestFrom(t *testing.T) {
	t.Parallel()

	t.Run("nilの場合はnilを返すこと", func(t *testing.T) {
		t.Parallel()

		if got := From(nil); got != nil {
			t.Errorf("From(nil) = %v, want nil", got)
		}
	})

	t.Run("ラップされた正規化エラーを取り出せること", func(t *testing.T) {
		t.Parallel()

		orig := Forbidden("csrf")
		wrapped := fmt.Errorf("ハンドラで失敗: %w", orig)

		got := From(wrapped)
		if got != orig {
			t.Errorf("From() = %v, want %v", got, orig)
		}
	})

	t.Run("未知のエラーはinternal_errorになること", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("boom")
		got := From(cause)
		if got.Kind != KindInternal {
			t.Errorf("Kind = %q, want %q", got.Kind, KindInternal)
		}
		if got.StatusCode != http.StatusInternalServerError {
			t.Errorf("StatusCode = %d, want %d", got.StatusCode, http.StatusInternalServerError)
		}
		if !errors.Is(got, cause) {
			t.Error("原因エラーが保持されていない")
		}
	})
}

// TestUnreachable はタイムアウトとネットワーク障害のステータス振り分けを検証する。
func TestUnreachable(t *testing.T) {
	t.Parallel()

	t.Run("タイムアウトの場合は504になること", func(t *testing.T) {
		t.Parallel()

		got := Unreachable("billpay", fmt.Errorf("送信失敗: %w", context.DeadlineExceeded))
		if got.StatusCode != StatusTimeout {
			t.Errorf("StatusCode = %d, want %d", got.StatusCode, StatusTimeout)
		}
		if got.Kind != KindUpstreamUnreachable {
			t.Errorf("Kind = %q, want %q", got.Kind, KindUpstreamUnreachable)
		}
	})

	t.Run("接続拒否の場合は502になること", func(t *testing.T) {
		t.Parallel()

		got := Unreachable("billpay", errors.New("connection refused"))
		if got.StatusCode != StatusUnreachable {
			t.Errorf("StatusCode = %d, want %d", got.StatusCode, StatusUnreachable)
		}
	})
}

// TestAbort はAbortが正規化エラーの形式でレスポンスを書き込むことを検証する。
func TestAbort(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.GET("/fail", func(c *gin.Context) {
		Abort(c, Upstream(http.StatusConflict, "重複した請求です", map[string]any{"code": "DUPLICATE"}))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusConflict)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if body["status_code"] != float64(http.StatusConflict) {
		t.Errorf("status_code = %v, want %d", body["status_code"], http.StatusConflict)
	}
	if body["message"] != "重複した請求です" {
		t.Errorf("message = %v", body["message"])
	}
	payload, ok := body["upstream_payload"].(map[string]any)
	if !ok || payload["code"] != "DUPLICATE" {
		t.Errorf("upstream_payload = %v", body["upstream_payload"])
	}
}
