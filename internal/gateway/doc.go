// Package gateway はブラウザ向けBFF（Backend for Frontend）ゲートウェイの内部実装を提供する。
//
// ブラウザとの間ではCookieベースのセッションとダブルサブミット方式のCSRF対策を担い、
// 認証情報をブラウザのスクリプトから隠したまま、独立した上流REST API
// （auth / retailer / billpay / payments）へリクエストを中継する。
//
// 1リクエスト内の処理は次の順に進む。
//
//	CSRF検証 → セッション解決 → 入力検証 → 上流呼び出し → 出力検証
//
// どの段階の失敗も apierror.Error の形でクライアントに返る。
// ゲートウェイ自身はセッションストアを持たず、状態の正はブラウザのCookieにある。
package gateway
