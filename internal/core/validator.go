package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/soundbysound/apigateway/internal/model"
)

// RequestValidator 请求结构校验，只做结构检查，不校验采样参数取值范围
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator 创建校验器，字段路径使用 json 名称
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &RequestValidator{v: v}
}

// ValidateChat 校验 /v1/chat/completions 请求体
func (rv *RequestValidator) ValidateChat(body []byte) (*model.ChatCompletionRequest, error) {
	var req model.ChatCompletionRequest
	if err := rv.decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ValidateCompletion 校验 /v1/completions 请求体
func (rv *RequestValidator) ValidateCompletion(body []byte) (*model.CompletionRequest, error) {
	var req model.CompletionRequest
	if err := rv.decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Struct validates an already decoded value.
func (rv *RequestValidator) Struct(v any) error {
	if err := rv.v.Struct(v); err != nil {
		return rv.toInvalidParams(err)
	}
	return nil
}

func (rv *RequestValidator) decodeAndValidate(body []byte, dst any) error {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return InvalidParams(model.FieldViolation{Field: "body", Message: "Request body must be a JSON object"})
	}
	// 转换与转发按 gjson 读取原始 body（区分大小写、取首个同名键），
	// 与 encoding/json 的解析结果必须一致
	if violations := checkKeys(gjson.ParseBytes(body), reflect.TypeOf(dst).Elem(), ""); len(violations) > 0 {
		return InvalidParams(violations...)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "body"
			}
			return InvalidParams(model.FieldViolation{
				Field:   field,
				Message: fmt.Sprintf("must be of type %s", jsonKind(typeErr.Type)),
			})
		}
		return InvalidParams(model.FieldViolation{Field: "body", Message: err.Error()})
	}
	return rv.Struct(dst)
}

// checkKeys rejects keys that encoding/json folds onto a declared field
// but gjson does not: case variants and repeated keys.
func checkKeys(obj gjson.Result, t reflect.Type, path string) []model.FieldViolation {
	type field struct {
		name string
		typ  reflect.Type
	}
	var fields []field
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" || !f.IsExported() {
			continue
		}
		fields = append(fields, field{name: name, typ: f.Type})
	}

	var violations []model.FieldViolation
	seen := make(map[string]bool, len(fields))
	obj.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		for _, f := range fields {
			if !strings.EqualFold(key, f.name) {
				continue
			}
			p := joinPath(path, key)
			switch {
			case key != f.name:
				violations = append(violations, model.FieldViolation{Field: p, Message: fmt.Sprintf("unknown key %q, did you mean %q", key, f.name)})
			case seen[f.name]:
				violations = append(violations, model.FieldViolation{Field: p, Message: fmt.Sprintf("duplicate key %q", key)})
			default:
				seen[f.name] = true
				violations = append(violations, checkNested(v, f.typ, p)...)
			}
			break
		}
		return true
	})
	return violations
}

func checkNested(v gjson.Result, t reflect.Type, path string) []model.FieldViolation {
	switch {
	case t.Kind() == reflect.Struct && v.IsObject():
		return checkKeys(v, t, path)
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Struct && v.IsArray():
		var violations []model.FieldViolation
		for i, elem := range v.Array() {
			if elem.IsObject() {
				violations = append(violations, checkKeys(elem, t.Elem(), fmt.Sprintf("%s[%d]", path, i))...)
			}
		}
		return violations
	}
	return nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func (rv *RequestValidator) toInvalidParams(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewError(KindInternal).Wrap(err)
	}
	details := make([]model.FieldViolation, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, model.FieldViolation{
			Field:   fieldPath(fe.Namespace()),
			Message: violationMessage(fe),
		})
	}
	return InvalidParams(details...)
}

// fieldPath drops the root struct name: "ChatCompletionRequest.messages[0].role" -> "messages[0].role".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.Int, reflect.Int64, reflect.Float64:
		return "number"
	default:
		return t.String()
	}
}
