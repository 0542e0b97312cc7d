// Package contract はルートごとに宣言された入出力スキーマで、
// リクエストと上流レスポンスのJSONペイロードを検証する。
//
// スキーマはコードではなくデータとして宣言する。
// 同じスキーマからテスト用のサンプルペイロード（Fixture）を生成できる。
//
// 検証は純粋かつ同期的で、ネットワーク呼び出しは行わない。
//
//   - ValidateInput: 上流呼び出し前の入力検証。失敗は validation_failed (400)。
//   - ValidateOutput: 成功した上流レスポンスの検証。失敗は contract_violation (502)。
//   - Resolve: 成功/失敗で形が変わる上流レスポンスを、プローブ関数で判別してから検証する。
package contract
