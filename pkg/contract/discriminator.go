package contract

import (
	"reflect"

	"github.com/nao1215/bffgate/pkg/httpclient"
)

// Variant は上流レスポンスの形の種類。
type Variant int

const (
	// VariantSuccess は成功ペイロードの形。
	VariantSuccess Variant = iota
	// VariantFailure は上流の業務エラーの形。
	VariantFailure
)

// String はVariantの名前を返す。
func (v Variant) String() string {
	if v == VariantFailure {
		return "failure"
	}
	return "success"
}

// Discriminator は上流レスポンスのボディがどちらの形かを判定する関数。
// 同じエンドポイントが成功と業務エラーで異なるJSONを返す場合に、ルールごとに宣言する。
type Discriminator func(body any) Variant

// FieldPresent は指定フィールドがnull以外で存在すれば成功とみなすDiscriminatorを返す。
func FieldPresent(name string) Discriminator {
	return func(body any) Variant {
		if obj, ok := body.(map[string]any); ok && obj[name] != nil {
			return VariantSuccess
		}
		return VariantFailure
	}
}

// FieldAbsent は指定フィールドが存在しなければ成功とみなすDiscriminatorを返す。
// エラー時にのみ "error" などのフィールドが付く上流に使う。
func FieldAbsent(name string) Discriminator {
	return func(body any) Variant {
		obj, ok := body.(map[string]any)
		if !ok {
			return VariantFailure
		}
		if _, exists := obj[name]; exists {
			return VariantFailure
		}
		return VariantSuccess
	}
}

// FieldEquals は指定フィールドがvaluesのいずれかと等しければ成功とみなすDiscriminatorを返す。
func FieldEquals(name string, values ...any) Discriminator {
	return func(body any) Variant {
		obj, ok := body.(map[string]any)
		if !ok {
			return VariantFailure
		}
		got, exists := obj[name]
		if !exists {
			return VariantFailure
		}
		for _, want := range values {
			if equalValue(got, want) {
				return VariantSuccess
			}
		}
		return VariantFailure
	}
}

// equalValue はJSON値と期待値を比較する。数値は型によらず値で比較する。
func equalValue(got, want any) bool {
	if g, ok := toFloat(got); ok {
		if w, ok := toFloat(want); ok {
			return g == w
		}
	}
	return reflect.DeepEqual(got, want)
}

// Outcome は判別済みの上流レスポンス。Variantによって有効なフィールドが異なる。
type Outcome struct {
	// Variant はレスポンスの形。
	Variant Variant
	// StatusCode は上流のHTTPステータス。
	StatusCode int
	// Value はVariantSuccessの場合の検証済みペイロード。
	Value any
	// Payload はVariantFailureの場合にそのまま返す上流ボディ。
	Payload any
}

// Resolve は上流の成功レスポンスを判別し、成功の形であれば出力スキーマで検証する。
// Discriminatorがnilの場合は常に成功の形として扱う。
// 業務エラーの形と判定されたボディは検証せず、上流のステータスとともにそのまま返す。
func Resolve(resp *httpclient.Response, discriminate Discriminator, schema *Schema) (Outcome, error) {
	if discriminate != nil && discriminate(resp.Body) == VariantFailure {
		return Outcome{
			Variant:    VariantFailure,
			StatusCode: resp.StatusCode,
			Payload:    rawPayload(resp.Body, resp.Raw),
		}, nil
	}

	value, err := ValidateOutput(resp.Body, resp.Raw, schema)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Variant:    VariantSuccess,
		StatusCode: resp.StatusCode,
		Value:      value,
	}, nil
}
