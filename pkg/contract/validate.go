package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nao1215/bffgate/pkg/apierror"
	"github.com/nao1215/bffgate/pkg/httpclient"
)

// validate はフィールド単位のルール検証器。タグの解析結果をキャッシュするため使い回す。
var validate = validator.New()

// ValidateInput はリクエストボディを検証し、デコードしたオブジェクトを返す。
// 失敗したフィールドはすべて列挙され、validation_failed エラーとして返る。
// 空のボディは空オブジェクトとして扱う。数値は json.Number のまま返す。
func ValidateInput(raw []byte, schema *Schema) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	body, err := httpclient.DecodeJSON(raw)
	if err != nil {
		return nil, apierror.Validation([]apierror.Issue{{
			Field:   "$",
			Rule:    "json",
			Message: "JSONとして解析できません",
		}})
	}

	obj, ok := body.(map[string]any)
	if !ok {
		return nil, apierror.Validation([]apierror.Issue{{
			Field:   "$",
			Rule:    "object",
			Message: "JSONオブジェクトである必要があります",
		}})
	}
	if schema == nil {
		return obj, nil
	}

	if issues := checkObject("", obj, schema.Fields); len(issues) > 0 {
		return nil, apierror.Validation(issues)
	}
	return obj, nil
}

// ValidateOutput は上流の成功レスポンスを検証する。
// bodyはJSONとして解析済みの値で、JSONでなかった場合はnil。
// 失敗した場合は上流の生ボディを保持した contract_violation エラーを返す。
func ValidateOutput(body any, raw []byte, schema *Schema) (any, error) {
	if schema == nil {
		return body, nil
	}

	if body == nil {
		return nil, apierror.ContractViolation([]apierror.Issue{{
			Field:   "$",
			Rule:    "json",
			Message: "上流レスポンスがJSONではありません",
		}}, rawPayload(body, raw))
	}

	obj, ok := body.(map[string]any)
	if !ok {
		return nil, apierror.ContractViolation([]apierror.Issue{{
			Field:   "$",
			Rule:    "object",
			Message: "上流レスポンスがJSONオブジェクトではありません",
		}}, rawPayload(body, raw))
	}

	if issues := checkObject("", obj, schema.Fields); len(issues) > 0 {
		return nil, apierror.ContractViolation(issues, rawPayload(body, raw))
	}
	return obj, nil
}

// Decode は検証済みの値を型付きの構造体に変換する。
func Decode[T any](value any) (T, error) {
	var out T
	b, err := json.Marshal(value)
	if err != nil {
		return out, fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("ペイロードのデシリアライズに失敗: %w", err)
	}
	return out, nil
}

// rawPayload はエラーに添える上流ボディを返す。解析できていればその値、できなければ生テキスト。
func rawPayload(body any, raw []byte) any {
	if body != nil {
		return body
	}
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// checkObject はオブジェクトの各フィールドを検証し、失敗をフィールド名順に返す。
func checkObject(prefix string, obj map[string]any, fields map[string]Field) []apierror.Issue {
	var issues []apierror.Issue
	for name, f := range fields {
		issues = append(issues, checkField(joinPath(prefix, name), obj[name], f)...)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Field < issues[j].Field
	})
	return issues
}

// checkField は1つのフィールドを 存在 → 型 → ルール → 入れ子 の順で検証する。
func checkField(path string, value any, f Field) []apierror.Issue {
	if value == nil {
		if f.Required() {
			return []apierror.Issue{{Field: path, Rule: "required", Message: "必須項目です"}}
		}
		return nil
	}

	if issue, ok := checkType(path, value, f.Type); !ok {
		return []apierror.Issue{issue}
	}

	if f.Required() && f.Type == TypeString && value.(string) == "" {
		return []apierror.Issue{{Field: path, Rule: "required", Message: "必須項目です"}}
	}

	if rules := optionalRules(f); rules != "" {
		if err := validate.Var(ruleValue(value), rules); err != nil {
			return []apierror.Issue{ruleIssue(path, err)}
		}
	}

	switch f.Type {
	case TypeObject:
		if len(f.Fields) > 0 {
			return checkObject(path, value.(map[string]any), f.Fields)
		}
	case TypeArray:
		if f.Items != nil {
			var issues []apierror.Issue
			for i, item := range value.([]any) {
				issues = append(issues, checkField(fmt.Sprintf("%s[%d]", path, i), item, *f.Items)...)
			}
			return issues
		}
	}
	return nil
}

// checkType は値がJSON型に一致するか検証する。
func checkType(path string, value any, t Type) (apierror.Issue, bool) {
	ok := true
	switch t {
	case TypeString:
		_, ok = value.(string)
	case TypeNumber:
		_, ok = toFloat(value)
	case TypeInteger:
		n, isNumber := toFloat(value)
		ok = isNumber && n == math.Trunc(n)
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeObject:
		_, ok = value.(map[string]any)
	case TypeArray:
		_, ok = value.([]any)
	}
	if ok {
		return apierror.Issue{}, true
	}
	return apierror.Issue{
		Field:   path,
		Rule:    "type",
		Message: fmt.Sprintf("%s型である必要があります", t),
	}, false
}

// ruleValue はルール検証に渡す値を返す。json.Number は文字列として扱われないよう数値に変換する。
func ruleValue(value any) any {
	if n, ok := value.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return value
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// optionalRules は存在確認済みの値に適用するルールを返す。
// "required" は存在確認で扱うため除き、省略可能なフィールドには omitempty を付ける。
func optionalRules(f Field) string {
	var rules []string
	for _, rule := range strings.Split(f.Rules, ",") {
		rule = strings.TrimSpace(rule)
		if rule == "" || rule == "required" {
			continue
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return ""
	}
	if !f.Required() {
		rules = append([]string{"omitempty"}, rules...)
	}
	return strings.Join(rules, ",")
}

// ruleIssue はvalidatorのエラーをフィールド単位の検証エラーに変換する。
func ruleIssue(path string, err error) apierror.Issue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierror.Issue{Field: path, Rule: "invalid", Message: err.Error()}
	}
	fe := verrs[0]
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return apierror.Issue{Field: path, Rule: rule, Message: ruleMessage(fe.Tag(), fe.Param())}
}

func ruleMessage(tag, param string) string {
	switch tag {
	case "email":
		return "メールアドレスの形式ではありません"
	case "e164":
		return "E.164形式の電話番号ではありません"
	case "oneof":
		return fmt.Sprintf("次のいずれかである必要があります: %s", param)
	case "len":
		return fmt.Sprintf("長さは%sである必要があります", param)
	case "min":
		return fmt.Sprintf("%s以上である必要があります", param)
	case "max":
		return fmt.Sprintf("%s以下である必要があります", param)
	case "gt":
		return fmt.Sprintf("%sより大きい必要があります", param)
	case "gte":
		return fmt.Sprintf("%s以上である必要があります", param)
	case "numeric":
		return "数字のみで構成される必要があります"
	case "alphanum":
		return "英数字のみで構成される必要があります"
	case "uuid", "uuid4":
		return "UUIDの形式ではありません"
	case "datetime":
		return fmt.Sprintf("日時の形式(%s)ではありません", param)
	default:
		return fmt.Sprintf("%s の検証に失敗しました", tag)
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
