package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/bffgate/internal/auditlog"
	"github.com/nao1215/bffgate/pkg/apierror"
	"github.com/nao1215/bffgate/pkg/contract"
	"github.com/nao1215/bffgate/pkg/event"
	"github.com/nao1215/bffgate/pkg/httpclient"
	"github.com/nao1215/bffgate/pkg/middleware"
)

// maxBodyBytes はクライアントから受け付けるリクエストボディの上限。
const maxBodyBytes = 1 << 20

// handleRoute はルート宣言に従って上流へ中継するハンドラを返す。
// CSRF検証とセッション解決はグループのミドルウェアで済んでいる。
func (s *Server) handleRoute(rt Route) gin.HandlerFunc {
	client := s.clients[rt.Service]
	return func(c *gin.Context) {
		body, err := s.routeBody(c, rt)
		if err != nil {
			apierror.Abort(c, err)
			return
		}

		header := http.Header{}
		if credential := middleware.GetCredential(c); credential != "" {
			header.Set("Authorization", "Bearer "+credential)
		}

		resp, err := client.Do(c.Request.Context(), httpclient.Request{
			Method: rt.Method,
			Path:   expandPath(rt.UpstreamPath, c.Params),
			Query:  forwardQuery(c, rt.Query),
			Body:   body,
			Header: header,
		})
		if err != nil {
			s.routeFailed(c, rt, err)
			return
		}

		outcome, err := contract.Resolve(resp, rt.Discriminator, rt.Output)
		if err != nil {
			s.routeFailed(c, rt, err)
			return
		}
		render(c, outcome, resp)
	}
}

// routeBody は上流へ送るボディを返す。読み取り系メソッドではボディを読まない。
// 検証に通ったボディはクライアントが送ったバイト列のまま中継する。
func (s *Server) routeBody(c *gin.Context, rt Route) (any, error) {
	if rt.Method == http.MethodGet || rt.Method == http.MethodHead {
		return nil, nil
	}
	raw, err := readBody(c)
	if err != nil {
		return nil, err
	}
	if rt.Input != nil {
		if _, err := contract.ValidateInput(raw, rt.Input); err != nil {
			return nil, err
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// routeFailed は中継の失敗を分類ごとにログと監査に残して応答する。
func (s *Server) routeFailed(c *gin.Context, rt Route, err error) {
	apiErr := apierror.From(err)
	switch apiErr.Kind {
	case apierror.KindContractViolation:
		fields := issueFields(apiErr.Issues)
		log.Printf("[ContractViolation] 上流応答がスキーマと一致しません: route=%s service=%s fields=%v", rt.Name, rt.Service, fields)
		auditlog.Emit(c.Request.Context(), s.audit, event.TypeContractViolation, s.source(c), event.ContractViolationData{
			Route:   rt.Name,
			Service: rt.Service,
			Fields:  fields,
		})
	case apierror.KindUpstreamUnreachable:
		auditlog.Emit(c.Request.Context(), s.audit, event.TypeUpstreamUnreachable, s.source(c), event.UpstreamUnreachableData{
			Service:    rt.Service,
			StatusCode: apiErr.StatusCode,
		})
	}
	apierror.Abort(c, apiErr)
}

// render は判別済みの上流応答をクライアントに返す。
// 成功の形も業務エラーの形も再エンコードせず、上流のステータスとバイト列のまま返す。
func render(c *gin.Context, outcome contract.Outcome, resp *httpclient.Response) {
	if len(resp.Raw) == 0 {
		c.Status(outcome.StatusCode)
		return
	}
	c.Data(outcome.StatusCode, responseContentType(resp), resp.Raw)
}

func responseContentType(resp *httpclient.Response) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if resp.Body != nil {
		return "application/json; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// readBody はリクエストボディを上限付きで読み取る。
func readBody(c *gin.Context) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierror.Validation([]apierror.Issue{{
				Field:   "$",
				Rule:    "max_bytes",
				Message: "リクエストボディが大きすぎます",
			}})
		}
		return nil, apierror.Internal("リクエストボディの読み取りに失敗しました", err)
	}
	return raw, nil
}

// expandPath は上流パスの ":name" をパスパラメータの値で置き換える。
func expandPath(upstreamPath string, params gin.Params) string {
	segments := strings.Split(upstreamPath, "/")
	for i, seg := range segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			value, _ := params.Get(name)
			segments[i] = url.PathEscape(value)
		}
	}
	return strings.Join(segments, "/")
}

// forwardQuery は許可されたクエリパラメータだけを上流に引き継ぐ。
func forwardQuery(c *gin.Context, names []string) map[string]any {
	if len(names) == 0 {
		return nil
	}
	query := make(map[string]any, len(names))
	for _, name := range names {
		if values, ok := c.GetQueryArray(name); ok {
			query[name] = values
		}
	}
	return query
}
