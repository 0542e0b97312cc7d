// BFFゲートウェイのエントリポイント。
// ブラウザ向けのセッションCookieとCSRF対策を担い、上流のREST APIへリクエストを中継する。
package main

import (
	"log"

	"github.com/nao1215/bffgate/internal/config"
	"github.com/nao1215/bffgate/internal/gateway"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	server, err := gateway.NewServer(cfg)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Gatewayサービスを起動します: :%s env=%s upstreams=%v", cfg.Port, cfg.Environment, cfg.Upstreams.Names())
	err = server.Run()
	if closeErr := server.Close(); closeErr != nil {
		log.Printf("監査ログのクローズに失敗: %v", closeErr)
	}
	if err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}
