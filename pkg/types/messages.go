package types

import (
	"encoding/json"
	"fmt"
)

// Message roles accepted in a transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a chat transcript. Content may be empty when the
// message carries tool output keyed by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation requested by the model. Arguments is the
// verbatim JSON string produced by the backend; it is never re-encoded.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the target function and carries its serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a callable function offered to the model for one request.
type Tool struct {
	Type     string       `json:"type,omitempty"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a tool's interface.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// UnmarshalJSON accepts both the nested form {"type":"function","function":{...}}
// and the flat form {"name":...,"description":...,"parameters":{...}}.
func (t *Tool) UnmarshalJSON(data []byte) error {
	type nested Tool
	var n nested
	if err := json.Unmarshal(data, &n); err == nil && n.Function.Name != "" {
		*t = Tool(n)
		if t.Type == "" {
			t.Type = "function"
		}
		return nil
	}

	var flat ToolFunction
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if flat.Name == "" {
		return fmt.Errorf("tool definition missing function name")
	}
	t.Type = "function"
	t.Function = flat
	return nil
}

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceFunction = "function"
)

// ToolChoice controls whether and which tool the model may call. On the wire
// it is either the string "auto"/"none" or {"type":"function","function":{"name":...}}.
type ToolChoice struct {
	Mode         string
	FunctionName string
}

func (tc *ToolChoice) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case ToolChoiceAuto, ToolChoiceNone:
			tc.Mode = s
		case "required":
			// Advisory; the closest supported behavior is auto.
			tc.Mode = ToolChoiceAuto
		default:
			return fmt.Errorf("unsupported tool_choice %q", s)
		}
		return nil
	}

	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Function.Name == "" {
		return fmt.Errorf("tool_choice object missing function name")
	}
	tc.Mode = ToolChoiceFunction
	tc.FunctionName = obj.Function.Name
	return nil
}

func (tc ToolChoice) MarshalJSON() ([]byte, error) {
	switch tc.Mode {
	case ToolChoiceFunction:
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.FunctionName},
		})
	case ToolChoiceNone:
		return json.Marshal(ToolChoiceNone)
	default:
		return json.Marshal(ToolChoiceAuto)
	}
}

// ActiveTools applies a tool choice to the request's tool set. A nil choice
// or "auto" keeps every tool, "none" clears the set, and a function choice
// narrows to the named tool.
func ActiveTools(tools []Tool, choice *ToolChoice) []Tool {
	if len(tools) == 0 {
		return nil
	}
	if choice == nil || choice.Mode == ToolChoiceAuto || choice.Mode == "" {
		return tools
	}
	if choice.Mode == ToolChoiceNone {
		return nil
	}
	for _, t := range tools {
		if t.Function.Name == choice.FunctionName {
			return []Tool{t}
		}
	}
	return nil
}
