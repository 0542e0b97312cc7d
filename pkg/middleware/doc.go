// Package middleware はゲートウェイで使用するGinミドルウェアを提供する。
//
// ダブルサブミット方式のCSRF検証、セッションCookieによる認証要求、
// パニックリカバリ、CORS設定、リクエストIDの付与を含む。
// いずれも拒否時は apierror.Error の形式で応答する。
package middleware
