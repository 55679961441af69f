package core

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// SystemContextSuffix 追加到每条 system 消息末尾
	SystemContextSuffix = "\n\nContext: You are helping with speech learning for hearing-impaired users. Provide clear, encouraging, and educational responses focused on pronunciation, speech therapy, and communication skills."

	// LegacyPreamble 旧版补全请求前置的 system 消息
	LegacyPreamble = "You are a helpful assistant for speech learning and hearing-impaired users. Provide clear, educational responses."
)

// Translator 请求转换器：模型名映射与 system 消息增强
// 直接改写原始 JSON，未声明的采样参数原样透传
type Translator struct {
	aliases map[string]string
}

// NewTranslator 创建转换器
func NewTranslator(aliases map[string]string) *Translator {
	m := make(map[string]string, len(aliases))
	for k, v := range aliases {
		m[k] = v
	}
	return &Translator{aliases: m}
}

// MapModel 映射公开模型名到上游模型名，未知名称原样返回
func (t *Translator) MapModel(name string) string {
	if mapped, ok := t.aliases[name]; ok {
		return mapped
	}
	return name
}

// TransformChat 改写聊天请求体，返回新 body 与上游模型名
func (t *Translator) TransformChat(body []byte) ([]byte, string, error) {
	upstreamModel := t.MapModel(gjson.GetBytes(body, "model").String())
	out, err := sjson.SetBytes(body, "model", upstreamModel)
	if err != nil {
		return nil, "", fmt.Errorf("set model: %w", err)
	}

	var systemIdx []int
	gjson.GetBytes(out, "messages").ForEach(func(i, msg gjson.Result) bool {
		if msg.Get("role").String() == "system" {
			systemIdx = append(systemIdx, int(i.Int()))
		}
		return true
	})
	for _, i := range systemIdx {
		path := fmt.Sprintf("messages.%d.content", i)
		content := gjson.GetBytes(out, path).String()
		if out, err = sjson.SetBytes(out, path, content+SystemContextSuffix); err != nil {
			return nil, "", fmt.Errorf("augment system message %d: %w", i, err)
		}
	}

	if out, err = sjson.DeleteBytes(out, "stream"); err != nil {
		return nil, "", fmt.Errorf("drop stream: %w", err)
	}
	return out, upstreamModel, nil
}

// TransformCompletion 将旧版 prompt 请求转换为聊天请求体
func (t *Translator) TransformCompletion(body []byte) ([]byte, string, error) {
	upstreamModel := t.MapModel(gjson.GetBytes(body, "model").String())
	prompt := gjson.GetBytes(body, "prompt").String()

	out, err := sjson.DeleteBytes(body, "prompt")
	if err != nil {
		return nil, "", fmt.Errorf("drop prompt: %w", err)
	}
	if out, err = sjson.DeleteBytes(out, "stream"); err != nil {
		return nil, "", fmt.Errorf("drop stream: %w", err)
	}
	if out, err = sjson.SetBytes(out, "model", upstreamModel); err != nil {
		return nil, "", fmt.Errorf("set model: %w", err)
	}
	messages := []map[string]string{
		{"role": "system", "content": LegacyPreamble},
		{"role": "user", "content": prompt},
	}
	if out, err = sjson.SetBytes(out, "messages", messages); err != nil {
		return nil, "", fmt.Errorf("set messages: %w", err)
	}
	return out, upstreamModel, nil
}
