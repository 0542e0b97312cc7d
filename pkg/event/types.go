// Package event はゲートウェイが記録するセキュリティ監査イベントを定義する。
// イベントは追記のみで、リクエストの判定には使用しない。
package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeLoginSucceeded はログインに成功しセッションCookieを発行したことを表す。
	TypeLoginSucceeded Type = "LoginSucceeded"
	// TypeLoginFailed はログインが失敗したことを表す。
	TypeLoginFailed Type = "LoginFailed"
	// TypeLoggedOut はセッションCookieを破棄したことを表す。
	TypeLoggedOut Type = "LoggedOut"
	// TypeCSRFRejected はCSRF検証でリクエストを拒否したことを表す。
	TypeCSRFRejected Type = "CSRFRejected"
	// TypeContractViolation は上流の成功レスポンスが宣言された形式と一致しなかったことを表す。
	TypeContractViolation Type = "ContractViolation"
	// TypeUpstreamUnreachable は上流サービスに到達できなかったことを表す。
	TypeUpstreamUnreachable Type = "UpstreamUnreachable"
)

// Event は1件の監査イベントを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// SubjectID は関係する主体のID。未認証の場合は空。
	SubjectID string `json:"subject_id,omitempty"`
	// Method はリクエストのHTTPメソッド。
	Method string `json:"method"`
	// Path はリクエストパス。
	Path string `json:"path"`
	// RequestID はリクエストID。
	RequestID string `json:"request_id,omitempty"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// Source はイベントの発生元となったリクエストの情報。
type Source struct {
	// SubjectID は主体のID。
	SubjectID string
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// RequestID はリクエストID。
	RequestID string
}

// LoginFailedData はLoginFailedイベントのデータ。
type LoginFailedData struct {
	// Username はログインを試みたユーザー名。
	Username string `json:"username"`
	// Kind は失敗の分類。
	Kind string `json:"kind"`
	// StatusCode はクライアントに返したステータス。
	StatusCode int `json:"status_code"`
}

// LoginSucceededData はLoginSucceededイベントのデータ。
type LoginSucceededData struct {
	// TTLSeconds は発行したセッションの寿命（秒）。
	TTLSeconds int64 `json:"ttl_seconds"`
}

// CSRFRejectedData はCSRFRejectedイベントのデータ。
type CSRFRejectedData struct {
	// Reason は拒否理由。
	Reason string `json:"reason"`
}

// ContractViolationData はContractViolationイベントのデータ。
type ContractViolationData struct {
	// Route はルート名。
	Route string `json:"route"`
	// Service は上流サービス名。
	Service string `json:"service"`
	// Fields は検証に失敗したフィールド。
	Fields []string `json:"fields"`
}

// UpstreamUnreachableData はUpstreamUnreachableイベントのデータ。
type UpstreamUnreachableData struct {
	// Service は上流サービス名。
	Service string `json:"service"`
	// StatusCode はクライアントに返したステータス（502 または 504）。
	StatusCode int `json:"status_code"`
}
