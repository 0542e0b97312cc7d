// Package auditlog はゲートウェイのセキュリティ監査イベントを記録する。
//
// 記録は追記のみで、リクエストの判定に使われることはない。
// 保存先のパスが設定されていない場合は何もしないRecorderを使う。
package auditlog
