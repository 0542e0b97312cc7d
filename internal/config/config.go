package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvProduction は本番環境を表すAPP_ENVの値。
const EnvProduction = "production"

// Config はゲートウェイプロセス全体の設定。
type Config struct {
	// Port はリッスンポート。
	Port string `validate:"required,numeric"`
	// Environment は実行環境（development / staging / production / test）。
	Environment string `validate:"oneof=development staging production test"`
	// FrontendOrigins はCORSで許可するフロントエンドのオリジン。
	FrontendOrigins []string `validate:"dive,http_url"`
	// CredentialCookie は認証情報Cookieの名前。
	CredentialCookie string
	// SubjectCookie は主体ID Cookieの名前。
	SubjectCookie string
	// AntiForgeryCookie はCSRFトークンCookieの名前。
	AntiForgeryCookie string
	// CookieDomain はCookieのDomain属性。
	CookieDomain string
	// MaxSessionTTL はセッション寿命の上限。
	MaxSessionTTL time.Duration `validate:"gt=0"`
	// DefaultSessionTTL は有効期限が読めない認証情報に使う寿命。
	DefaultSessionTTL time.Duration `validate:"gt=0,ltefield=MaxSessionTTL"`
	// CSRFHeader はCSRFトークンを運ぶヘッダー名。
	CSRFHeader string `validate:"required"`
	// AuditDBPath は監査ログのSQLiteファイル。空なら記録しない。
	AuditDBPath string
	// Upstreams は上流サービスのレジストリ。
	Upstreams *Registry
}

// SecureCookies はCookieにSecure属性を付けるかどうかを返す。
func (c *Config) SecureCookies() bool {
	return c.Environment == EnvProduction
}

// Load は.envファイルを読み込んだうえで環境変数から設定を組み立てる。
// ファイルが存在しない場合は無視する。既に設定されている環境変数は上書きしない。
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s の読み込みに失敗: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv はgetenvで参照できる値から設定を組み立てて検証する。
func FromEnv(getenv func(string) string) (*Config, error) {
	maxTTL, err := durationOr(getenv, "SESSION_MAX_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	defaultTTL, err := durationOr(getenv, "SESSION_DEFAULT_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              envOr(getenv, "PORT", "8080"),
		Environment:       envOr(getenv, "APP_ENV", "development"),
		FrontendOrigins:   splitList(envOr(getenv, "FRONTEND_URL", "http://localhost:3000")),
		CredentialCookie:  getenv("SESSION_CREDENTIAL_COOKIE"),
		SubjectCookie:     getenv("SESSION_SUBJECT_COOKIE"),
		AntiForgeryCookie: getenv("ANTI_FORGERY_COOKIE"),
		CookieDomain:      getenv("COOKIE_DOMAIN"),
		MaxSessionTTL:     maxTTL,
		DefaultSessionTTL: defaultTTL,
		CSRFHeader:        envOr(getenv, "CSRF_HEADER", "X-CSRF-Token"),
		AuditDBPath:       getenv("AUDIT_DB_PATH"),
	}

	upstreams, err := upstreamsFromEnv(getenv)
	if err != nil {
		return nil, err
	}
	if path := getenv("UPSTREAMS_FILE"); path != "" {
		fromFile, err := loadUpstreamsFile(path)
		if err != nil {
			return nil, err
		}
		upstreams = mergeUpstreams(upstreams, fromFile)
	}
	if cfg.Upstreams, err = NewRegistry(upstreams); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

// envOr は値を取得し、設定されていない場合はデフォルト値を返す。
func envOr(getenv func(string) string, key, defaultValue string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func durationOr(getenv func(string) string, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s の解析に失敗: %w", key, err)
	}
	return d, nil
}

// splitList はカンマ区切りの値を分割する。空の要素は捨てる。
func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
