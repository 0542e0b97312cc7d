// Package httpclient は上流サービスを呼び出すプロキシクライアントを提供する。
//
// 上流サービス（認証、リテーラー、請求支払い、送金ルーティング）ごとに
// 1つの Client を生成し、URL組み立て、ヘッダー付与、ボディのシリアライズ、
// タイムアウト制御、レスポンス解析を一箇所に集約する。
// 失敗はすべて apierror.Error として返り、通信障害と上流の失敗ステータスはKindで区別される。
package httpclient
