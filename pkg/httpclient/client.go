package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nao1215/bffgate/pkg/apierror"
)

// DefaultTimeout は上流ごとのタイムアウトが未設定の場合の既定値。
const DefaultTimeout = 20 * time.Second

// DefaultAPIKeyHeader はAPIキーを送るヘッダーの既定名。
const DefaultAPIKeyHeader = "X-API-Key"

// DefaultMaxResponseBytes は上流レスポンスボディの既定の上限。
const DefaultMaxResponseBytes = 10 << 20

// maxMessageLength はエラーメッセージとして採用する生テキストの最大バイト数。
const maxMessageLength = 512

// Config は1つの上流サービスに対するクライアント設定。
type Config struct {
	// Service はレジストリ上の論理サービス名（ログとエラーメッセージに使う）。
	Service string
	// BaseURL は上流サービスのベースURL（例: "http://billpay:8080/v1"）。
	BaseURL string
	// Timeout は1回の呼び出しに許される既定の時間。
	Timeout time.Duration
	// APIKey は上流と共有するAPIキー。空なら送信しない。
	APIKey string
	// APIKeyHeader はAPIキーを載せるヘッダー名。
	APIKeyHeader string
	// MaxResponseBytes はレスポンスボディとして読み取る最大バイト数。
	MaxResponseBytes int64
}

// Client は上流サービス1つに対応するプロキシクライアント。
// 生成後は変更されないため、複数のゴルーチンから同時に使用できる。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。タイムアウトはリクエスト単位のcontextで制御する。
	httpClient *http.Client
	// cfg は生成時に固定された設定。
	cfg Config
}

// Request は1回の上流呼び出しを表す記述子。
type Request struct {
	// Method はHTTPメソッド。空ならGET。
	Method string
	// Path はベースURLからの相対パス。
	Path string
	// Query はクエリパラメータ。nilの値は送信しない。
	Query map[string]any
	// Body はリクエストボディ。string / []byte / json.RawMessage はそのまま送信し、それ以外はJSONにシリアライズする。
	Body any
	// Header は呼び出し側が付与するヘッダー（Authorization など）。
	Header http.Header
	// Timeout はこの呼び出しのタイムアウト。0ならクライアントの既定値を使う。
	Timeout time.Duration
	// AllowAbsoluteURL はPathに絶対URLを許可するかどうか。
	// コード上で固定された呼び出し箇所以外で true にしてはならない。
	AllowAbsoluteURL bool
}

// Response は成功した上流呼び出しの結果。
type Response struct {
	// StatusCode は上流のHTTPステータス。
	StatusCode int
	// Header は上流のレスポンスヘッダー。
	Header http.Header
	// Raw はレスポンスボディの生バイト列。
	Raw []byte
	// Body はJSONとしてパースしたボディ。JSONでなければnil。
	Body any
}

// New は新しいプロキシクライアントを生成する。
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		httpClient: &http.Client{
			// リダイレクトは追わずに呼び出し側へ返す
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg: cfg,
	}
}

// Service はクライアントの論理サービス名を返す。
func (c *Client) Service() string {
	return c.cfg.Service
}

// Timeout はクライアントの既定タイムアウトを返す。
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Do は上流サービスを呼び出す。
// 失敗時は必ず *apierror.Error を返す。
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.buildURL(r)
	if err != nil {
		return nil, apierror.Internal("上流URLの組み立てに失敗しました", err)
	}

	payload, err := encodeBody(method, r.Body)
	if err != nil {
		return nil, apierror.Internal("リクエストボディのシリアライズに失敗しました", err)
	}

	budget := c.cfg.Timeout
	if r.Timeout > 0 {
		budget = r.Timeout
	}
	// 呼び出し側のキャンセルと期限のどちらか早い方で中断する
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, apierror.Internal("HTTPリクエストの作成に失敗しました", err)
	}
	c.applyHeaders(ctx, req, r.Header, payload != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Proxy] 上流への送信に失敗: service=%s method=%s url=%s error=%v", c.cfg.Service, method, redact(target), err)
		return nil, apierror.Unreachable(c.cfg.Service, err)
	}
	defer resp.Body.Close()

	// JSON以外のエラーボディにも対応するため、まず全体をテキストとして読む
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		log.Printf("[Proxy] レスポンスの読み取りに失敗: service=%s url=%s error=%v", c.cfg.Service, redact(target), err)
		return nil, apierror.Unreachable(c.cfg.Service, err)
	}
	if int64(len(raw)) > c.cfg.MaxResponseBytes {
		log.Printf("[Proxy] レスポンスが上限を超過: service=%s url=%s limit=%d", c.cfg.Service, redact(target), c.cfg.MaxResponseBytes)
		return nil, apierror.ContractViolation([]apierror.Issue{{
			Field:   "$",
			Rule:    "max_bytes",
			Message: fmt.Sprintf("上流レスポンスが上限(%dバイト)を超えています", c.cfg.MaxResponseBytes),
		}}, nil)
	}
	parsed := parseJSON(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Proxy] 上流がエラーを返却: service=%s method=%s url=%s status=%d", c.cfg.Service, method, redact(target), resp.StatusCode)
		return nil, upstreamError(resp.StatusCode, raw, parsed)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Raw:        raw,
		Body:       parsed,
	}, nil
}

// GetJSON は指定パスにGETリクエストを送信し、成功レスポンスをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, header http.Header, result any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Header: header})
	if err != nil {
		return err
	}
	return decodeResult(resp, result)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// resultがnilでなければ成功レスポンスをデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, header http.Header, body any, result any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Header: header, Body: body})
	if err != nil {
		return err
	}
	return decodeResult(resp, result)
}

// decodeResult は成功レスポンスをresultにデシリアライズする。失敗は契約違反として扱う。
func decodeResult(resp *Response, result any) error {
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Raw, result); err != nil {
		return apierror.ContractViolation([]apierror.Issue{{
			Field:   "$",
			Rule:    "json",
			Message: fmt.Sprintf("レスポンスボディのデシリアライズに失敗: %v", err),
		}}, string(resp.Raw))
	}
	return nil
}

// buildURL はベースURLとパス、クエリから呼び出し先URLを組み立てる。
func (c *Client) buildURL(r Request) (string, error) {
	ref, err := url.Parse(r.Path)
	if err != nil {
		return "", fmt.Errorf("パスの解析に失敗: %w", err)
	}

	var target *url.URL
	if ref.IsAbs() || ref.Host != "" {
		if !r.AllowAbsoluteURL {
			return "", fmt.Errorf("絶対URLは許可されていません: %s", redact(r.Path))
		}
		target = ref
	} else {
		if c.cfg.BaseURL == "" {
			return "", errors.New("ベースURLが設定されていません")
		}
		target, err = url.Parse(c.cfg.BaseURL + "/" + strings.TrimLeft(r.Path, "/"))
		if err != nil {
			return "", fmt.Errorf("URLの解析に失敗: %w", err)
		}
	}

	if len(r.Query) > 0 {
		q := target.Query()
		for key, value := range r.Query {
			switch v := value.(type) {
			case nil:
				continue
			case *string:
				if v != nil {
					q.Set(key, *v)
				}
			case []string:
				for _, item := range v {
					q.Add(key, item)
				}
			default:
				q.Set(key, fmt.Sprint(v))
			}
		}
		target.RawQuery = q.Encode()
	}
	return target.String(), nil
}

// applyHeaders は上流へのリクエストにヘッダーを設定する。
func (c *Client) applyHeaders(ctx context.Context, req *http.Request, extra http.Header, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}
	for key, values := range extra {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	// コンテキストからリクエストIDを伝播する
	if requestID := RequestIDFrom(ctx); requestID != "" {
		req.Header.Set(headerKeyRequestID, requestID)
	}
}

// encodeBody はボディをバイト列に変換する。読み取り系メソッドではボディを送らない。
func encodeBody(method string, body any) ([]byte, error) {
	if body == nil || method == http.MethodGet || method == http.MethodHead {
		return nil, nil
	}
	switch b := body.(type) {
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

// parseJSON はボディをJSONとしてパースする。失敗した場合はnilを返す。
// 数値は精度を保つため json.Number として保持する。
func parseJSON(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	v, err := DecodeJSON(raw)
	if err != nil {
		return nil
	}
	return v
}

// DecodeJSON は単一のJSON値を数値を json.Number のまま解析する。
// 値の後ろに余分なデータがある場合はエラーとする。
func DecodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("JSON値の後ろに余分なデータがあります")
	}
	return v, nil
}

// upstreamError は失敗レスポンスから正規化エラーを組み立てる。
// メッセージは上流自身のフィールド、生テキスト、ステータステキスト、汎用文言の順に採用する。
func upstreamError(status int, raw []byte, parsed any) *apierror.Error {
	var payload any
	switch {
	case parsed != nil:
		payload = parsed
	case len(bytes.TrimSpace(raw)) > 0:
		payload = string(raw)
	}
	return apierror.Upstream(status, upstreamMessage(status, raw, parsed), payload)
}

func upstreamMessage(status int, raw []byte, parsed any) string {
	if obj, ok := parsed.(map[string]any); ok {
		for _, key := range []string{"message", "error_description", "error", "detail"} {
			switch v := obj[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if m, ok := v["message"].(string); ok && m != "" {
					return m
				}
			}
		}
	}
	if parsed == nil {
		if text := strings.TrimSpace(string(raw)); text != "" {
			if len(text) > maxMessageLength {
				text = truncateUTF8(text, maxMessageLength)
			}
			return text
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "上流サービスでエラーが発生しました"
}

// truncateUTF8 は文字の途中で切らないようにtextをmaxバイト以内に切り詰める。
func truncateUTF8(text string, max int) string {
	if len(text) <= max {
		return text
	}
	n := max
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

// redact はログに出すURLからクエリ文字列を取り除く。
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// headerKeyRequestID は上流へリクエストIDを伝播するヘッダー。
const headerKeyRequestID = "X-Request-ID"

// WithRequestID はコンテキストにリクエストIDを設定する。
// 上流呼び出し時に X-Request-ID ヘッダーとして伝播される。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// RequestIDFrom はコンテキストに設定されたリクエストIDを返す。無ければ空文字列。
func RequestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(contextKeyRequestID).(string)
	return requestID
}
