// Package config はゲートウェイプロセスの設定を読み込む。
//
// 設定は起動時に一度だけ、.envファイル・環境変数・任意のYAMLファイルから組み立てる。
// 上流サービスのレジストリは構築後に変更されないため、ロックなしで並行に参照できる。
package config
