// Package apierror はゲートウェイ全体で共通の正規化エラー型を提供する。
//
// CSRF拒否、入力検証失敗、上流サービスのエラー応答、通信失敗、
// 上流レスポンスの契約違反など、あらゆる失敗経路はこのパッケージの
// Error 型に集約されてからクライアントへ返される。
package apierror
