package core

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared/constant"
	"github.com/tidwall/gjson"

	"github.com/soundbysound/apigateway/internal/model"
)

// ToLegacyCompletion 将上游聊天响应转换为旧版 text_completion 格式，只取第一个 choice
func ToLegacyCompletion(body []byte) (*model.LegacyCompletion, error) {
	if !gjson.ValidBytes(body) {
		return nil, NewError(KindMalformedUpstream).Wrap(fmt.Errorf("upstream body is not valid JSON"))
	}
	choices := gjson.GetBytes(body, "choices")
	if !choices.IsArray() || len(choices.Array()) == 0 {
		return nil, NewError(KindMalformedUpstream).Wrap(fmt.Errorf("upstream response has no choices"))
	}
	if msg := gjson.GetBytes(body, "choices.0.message"); !msg.IsObject() {
		return nil, NewError(KindMalformedUpstream).Wrap(fmt.Errorf("first choice has no message"))
	}

	var chat openai.ChatCompletion
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, NewError(KindMalformedUpstream).Wrap(err)
	}
	first := chat.Choices[0]

	out := &model.LegacyCompletion{
		ID:      chat.ID,
		Object:  string(constant.TextCompletion("").Default()),
		Created: chat.Created,
		Model:   chat.Model,
		Choices: []model.LegacyChoice{{
			Text:         first.Message.Content,
			Index:        first.Index,
			Logprobs:     nil,
			FinishReason: string(first.FinishReason),
		}},
	}
	if usage := gjson.GetBytes(body, "usage"); usage.Exists() {
		out.Usage = json.RawMessage(usage.Raw)
	}
	return out, nil
}

// UsageOf 读取响应中的 token 用量，缺失字段为 0
func UsageOf(body []byte) model.Usage {
	u := gjson.GetBytes(body, "usage")
	return model.Usage{
		PromptTokens:     int(u.Get("prompt_tokens").Int()),
		CompletionTokens: int(u.Get("completion_tokens").Int()),
		TotalTokens:      int(u.Get("total_tokens").Int()),
	}
}
