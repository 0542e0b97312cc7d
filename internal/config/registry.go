package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nao1215/bffgate/pkg/httpclient"
	"gopkg.in/yaml.v3"
)

// 上流サービスの論理名。
const (
	ServiceAuth     = "auth"
	ServiceRetailer = "retailer"
	ServiceBillPay  = "billpay"
	ServicePayments = "payments"
)

// defaultServiceURLs は環境変数が無い場合の開発用の接続先。
var defaultServiceURLs = map[string]string{
	ServiceAuth:     "http://localhost:9001",
	ServiceRetailer: "http://localhost:9002",
	ServiceBillPay:  "http://localhost:9003",
	ServicePayments: "http://localhost:9004",
}

// UpstreamConfig は1つの上流サービスの接続設定。
type UpstreamConfig struct {
	// Name は論理サービス名。
	Name string `yaml:"name" validate:"required"`
	// BaseURL は上流のベースURL。
	BaseURL string `yaml:"base_url" validate:"required,http_url"`
	// Timeout は1回の呼び出しの時間予算。0なら既定値。
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// APIKey は上流と共有するAPIキー。
	APIKey string `yaml:"api_key"`
	// APIKeyHeader はAPIキーを載せるヘッダー名。
	APIKeyHeader string `yaml:"api_key_header"`
	// MaxResponseBytes はレスポンスボディの上限。0なら既定値。
	MaxResponseBytes int64 `yaml:"max_response_bytes" validate:"gte=0"`
}

// ClientConfig はプロキシクライアントの設定に変換する。
func (u UpstreamConfig) ClientConfig() httpclient.Config {
	return httpclient.Config{
		Service:          u.Name,
		BaseURL:          u.BaseURL,
		Timeout:          u.Timeout,
		APIKey:           u.APIKey,
		APIKeyHeader:     u.APIKeyHeader,
		MaxResponseBytes: u.MaxResponseBytes,
	}
}

// Registry は上流サービスのレジストリ。構築後は読み取り専用。
type Registry struct {
	upstreams map[string]UpstreamConfig
	names     []string
}

// NewRegistry はレジストリを構築する。名前の重複や不正なURLはエラーとする。
func NewRegistry(upstreams []UpstreamConfig) (*Registry, error) {
	validate := validator.New()
	r := &Registry{upstreams: make(map[string]UpstreamConfig, len(upstreams))}
	for _, u := range upstreams {
		if err := validate.Struct(u); err != nil {
			return nil, fmt.Errorf("上流サービス %q の設定が不正: %w", u.Name, err)
		}
		if _, dup := r.upstreams[u.Name]; dup {
			return nil, fmt.Errorf("上流サービス %q が重複しています", u.Name)
		}
		if u.Timeout == 0 {
			u.Timeout = httpclient.DefaultTimeout
		}
		if u.APIKeyHeader == "" {
			u.APIKeyHeader = httpclient.DefaultAPIKeyHeader
		}
		if u.MaxResponseBytes == 0 {
			u.MaxResponseBytes = httpclient.DefaultMaxResponseBytes
		}
		u.BaseURL = strings.TrimRight(u.BaseURL, "/")
		r.upstreams[u.Name] = u
		r.names = append(r.names, u.Name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Lookup は論理名から上流サービスの設定を返す。
func (r *Registry) Lookup(name string) (UpstreamConfig, bool) {
	u, ok := r.upstreams[name]
	return u, ok
}

// Names は登録されている論理名を名前順で返す。
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// upstreamsFromEnv は既知の論理名ごとに <NAME>_SERVICE_URL などの環境変数から設定を組み立てる。
func upstreamsFromEnv(getenv func(string) string) ([]UpstreamConfig, error) {
	names := make([]string, 0, len(defaultServiceURLs))
	for name := range defaultServiceURLs {
		names = append(names, name)
	}
	slices.Sort(names)

	upstreams := make([]UpstreamConfig, 0, len(names))
	for _, name := range names {
		prefix := strings.ToUpper(name) + "_SERVICE_"
		u := UpstreamConfig{
			Name:         name,
			BaseURL:      envOr(getenv, prefix+"URL", defaultServiceURLs[name]),
			APIKey:       getenv(prefix + "API_KEY"),
			APIKeyHeader: getenv(prefix + "API_KEY_HEADER"),
		}
		if raw := getenv(prefix + "TIMEOUT"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("%sTIMEOUT の解析に失敗: %w", prefix, err)
			}
			u.Timeout = d
		}
		if raw := getenv(prefix + "MAX_RESPONSE_BYTES"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%sMAX_RESPONSE_BYTES の解析に失敗: %w", prefix, err)
			}
			u.MaxResponseBytes = n
		}
		upstreams = append(upstreams, u)
	}
	return upstreams, nil
}

// upstreamsFile はYAMLで記述する上流サービス一覧。
type upstreamsFile struct {
	Upstreams []UpstreamConfig `yaml:"upstreams"`
}

// loadUpstreamsFile はYAMLファイルから上流サービス一覧を読み込む。
func loadUpstreamsFile(path string) ([]UpstreamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("上流設定ファイルの読み込みに失敗: %w", err)
	}

	var f upstreamsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("上流設定ファイルの解析に失敗: %w", err)
	}
	if len(f.Upstreams) == 0 {
		return nil, errors.New("上流設定ファイルに upstreams がありません")
	}
	return f.Upstreams, nil
}

// mergeUpstreams はbaseにoverrideを重ねる。同じ名前はoverrideが優先され、新しい名前は追加される。
func mergeUpstreams(base, override []UpstreamConfig) []UpstreamConfig {
	merged := slices.Clone(base)
	for _, o := range override {
		i := slices.IndexFunc(merged, func(u UpstreamConfig) bool { return u.Name == o.Name })
		if i >= 0 {
			merged[i] = o
			continue
		}
		merged = append(merged, o)
	}
	return merged
}
