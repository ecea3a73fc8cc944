package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
)

func ollamaChat(ctx context.Context, params map[string]any, opts Options) (string, error) {
	model := stringParam(params, "model", "")
	if model == "" {
		return "", errorf("ollama_chat requires param 'model'")
	}
	messages, err := chatMessages(params)
	if err != nil {
		return "", err
	}
	if opts.DryRun {
		return "", nil
	}
	if opts.LLM == nil {
		return "", errorf("ollama_chat requires an LLM client")
	}
	resp, err := opts.LLM.Chat(ctx, ollama.ChatRequest{
		Model:     model,
		Messages:  messages,
		Timeout:   opts.Timeout,
		KeepAlive: opts.KeepAlive,
	})
	if err != nil {
		return "", &Error{Msg: fmt.Sprintf("ollama chat request failed: %v", err), Err: err}
	}
	return resp.Content, nil
}

// chatMessages builds the history from either a JSON `messages` param or a
// single `prompt`.
func chatMessages(params map[string]any) ([]ollama.Message, error) {
	if raw, ok := params["messages"]; ok && raw != nil {
		text, isString := raw.(string)
		if !isString {
			return nil, errorf("llm call param 'messages' must be a JSON array string")
		}
		var messages []ollama.Message
		if err := json.Unmarshal([]byte(text), &messages); err != nil {
			return nil, errorf("llm call param 'messages' must be a JSON array of {role, content}: %v", err)
		}
		if len(messages) == 0 {
			return nil, errorf("llm call requires non-empty messages when provided")
		}
		return messages, nil
	}
	if _, ok := params["prompt"]; ok {
		return []ollama.Message{{Role: "user", Content: stringParam(params, "prompt", "")}}, nil
	}
	return nil, errorf("llm call requires either prompt or messages")
}
