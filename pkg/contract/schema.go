package contract

import "strings"

// Type はJSON値の型を表す。
type Type string

const (
	// TypeString は文字列。
	TypeString Type = "string"
	// TypeNumber は数値。
	TypeNumber Type = "number"
	// TypeInteger は小数部を持たない数値。
	TypeInteger Type = "integer"
	// TypeBoolean は真偽値。
	TypeBoolean Type = "boolean"
	// TypeObject はオブジェクト。
	TypeObject Type = "object"
	// TypeArray は配列。
	TypeArray Type = "array"
	// TypeAny は型を問わない値。
	TypeAny Type = "any"
)

// Schema はJSONオブジェクトの形を宣言する。
type Schema struct {
	// Name はスキーマ名（ログ用）。
	Name string
	// Fields はフィールド名ごとの定義。
	Fields map[string]Field
}

// Field は1つのフィールドの定義。
type Field struct {
	// Type は値の型。
	Type Type
	// Rules はgo-playground/validatorのタグ形式の検証ルール（例: "required,email"）。
	// "required" を含まないフィールドは省略やnullを許す。
	Rules string
	// Example はFixture生成に使う正しい値。
	Example any
	// Fields はTypeObjectの場合の入れ子フィールド。
	Fields map[string]Field
	// Items はTypeArrayの場合の要素定義。
	Items *Field
}

// Required は必須フィールドかどうかを返す。
func (f Field) Required() bool {
	for _, rule := range strings.Split(f.Rules, ",") {
		if strings.TrimSpace(rule) == "required" {
			return true
		}
	}
	return false
}

// Fixture はスキーマを満たすサンプルペイロードを生成する。
// 省略可能なフィールドもExampleがあれば含める。
func (s *Schema) Fixture() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return fixtureObject(s.Fields)
}

func fixtureObject(fields map[string]Field) map[string]any {
	out := make(map[string]any, len(fields))
	for name, f := range fields {
		if v, ok := fixtureValue(f); ok {
			out[name] = v
		}
	}
	return out
}

func fixtureValue(f Field) (any, bool) {
	if f.Example != nil {
		return f.Example, true
	}
	switch f.Type {
	case TypeObject:
		return fixtureObject(f.Fields), true
	case TypeArray:
		if f.Items == nil {
			return []any{}, true
		}
		item, ok := fixtureValue(*f.Items)
		if !ok {
			return []any{}, true
		}
		return []any{item}, true
	default:
		return nil, false
	}
}
