package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind は正規化エラーの分類を表す。
type Kind string

const (
	// KindUnauthorized は有効なセッションが存在しないことを表す。
	KindUnauthorized Kind = "unauthorized"
	// KindForbidden はCSRFトークンの欠落または不一致を表す。
	KindForbidden Kind = "forbidden"
	// KindValidation は入力ペイロードの検証失敗を表す。
	KindValidation Kind = "validation_failed"
	// KindUpstream は上流サービスが失敗ステータスを返したことを表す。
	KindUpstream Kind = "upstream_error"
	// KindUpstreamUnreachable は上流サービスとの通信失敗またはタイムアウトを表す。
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	// KindContractViolation は上流の成功レスポンスが宣言された形式と一致しないことを表す。
	KindContractViolation Kind = "contract_violation"
	// KindInternal はゲートウェイ内部の想定外のエラーを表す。
	KindInternal Kind = "internal_error"
)

const (
	// StatusUnreachable は上流に到達できなかった場合のステータス。
	StatusUnreachable = http.StatusBadGateway
	// StatusTimeout は上流呼び出しがタイムアウトした場合のステータス。
	StatusTimeout = http.StatusGatewayTimeout
	// StatusContractViolation は上流レスポンスの契約違反時のステータス。
	StatusContractViolation = http.StatusBadGateway
)

// Issue はフィールド単位の検証エラー。
type Issue struct {
	// Field は検証に失敗したフィールドのパス（例: "payer.mobile"）。
	Field string `json:"field"`
	// Rule は失敗した検証ルール。
	Rule string `json:"rule"`
	// Message は人間が読めるエラー内容。
	Message string `json:"message"`
}

// Error はゲートウェイが返す唯一の失敗形式。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind `json:"kind"`
	// StatusCode はクライアントに返すHTTPステータス。
	StatusCode int `json:"status_code"`
	// Message はエラーの要約。
	Message string `json:"message"`
	// UpstreamPayload は上流が返したボディ（パースできた場合はJSON値、できなければ生テキスト）。
	UpstreamPayload any `json:"upstream_payload,omitempty"`
	// Issues は入力・出力検証で失敗したフィールドの一覧。
	Issues []Issue `json:"issues,omitempty"`

	cause error
}

// Error は error インターフェースを実装する。
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (status=%d): %s: %v", e.Kind, e.StatusCode, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (status=%d): %s", e.Kind, e.StatusCode, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause は原因エラーを付与したコピーを返す。
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

// Unauthorized は認証が必要な場合のエラーを生成する。
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, StatusCode: http.StatusUnauthorized, Message: message}
}

// Forbidden はCSRF検証に失敗した場合のエラーを生成する。
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, StatusCode: http.StatusForbidden, Message: message}
}

// Validation は入力検証に失敗した場合のエラーを生成する。
func Validation(issues []Issue) *Error {
	return &Error{
		Kind:       KindValidation,
		StatusCode: http.StatusBadRequest,
		Message:    "リクエストの形式が不正です",
		Issues:     issues,
	}
}

// Upstream は上流が失敗ステータスを返した場合のエラーを生成する。
// ステータスは上流のものをそのまま保持する。
func Upstream(status int, message string, payload any) *Error {
	return &Error{Kind: KindUpstream, StatusCode: status, Message: message, UpstreamPayload: payload}
}

// Unreachable は上流と通信できなかった場合のエラーを生成する。
// タイムアウトの場合は StatusTimeout、それ以外は StatusUnreachable となる。
func Unreachable(service string, cause error) *Error {
	e := &Error{
		Kind:       KindUpstreamUnreachable,
		StatusCode: StatusUnreachable,
		Message:    fmt.Sprintf("上流サービス %s との通信に失敗しました", service),
		cause:      cause,
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		e.StatusCode = StatusTimeout
		e.Message = fmt.Sprintf("上流サービス %s の応答がタイムアウトしました", service)
	}
	return e
}

// ContractViolation は上流の成功レスポンスが契約に違反している場合のエラーを生成する。
func ContractViolation(issues []Issue, payload any) *Error {
	return &Error{
		Kind:            KindContractViolation,
		StatusCode:      StatusContractViolation,
		Message:         "上流サービスのレスポンス形式が不正です",
		UpstreamPayload: payload,
		Issues:          issues,
	}
}

// Internal はゲートウェイ内部のエラーを生成する。
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, StatusCode: http.StatusInternalServerError, Message: message, cause: cause}
}

// From は任意のエラーを正規化エラーに変換する。
// すでに *Error であればそのまま返し、それ以外は internal_error として包む。
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal("内部エラーが発生しました", err)
}

// Abort は正規化エラーをJSONで返し、Ginのハンドラチェーンを中断する。
func Abort(c *gin.Context, err error) {
	apiErr := From(err)
	c.AbortWithStatusJSON(apiErr.StatusCode, apiErr)
}
