// Package toolvalidator checks the tool surface of an incoming chat
// request: the offered function definitions, the tool_choice referring to
// them, and the pairing of assistant tool calls with tool responses in the
// transcript. It rejects only the shapes that confuse backends; full JSON
// Schema validation is the model runtime's job.
package toolvalidator

import (
	"fmt"
	"regexp"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

// namePattern is the function-name charset OpenAI-compatible runtimes accept.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validate checks the tool definitions offered on a request. A nil error
// means the set is safe to forward to a backend.
func Validate(tools []types.Tool, choice *types.ToolChoice) error {
	seen := make(map[string]struct{}, len(tools))
	for i, t := range tools {
		name := t.Function.Name
		if name == "" {
			return fmt.Errorf("tools[%d]: function name is required", i)
		}
		if !namePattern.MatchString(name) {
			return fmt.Errorf("tools[%d]: function name %q must match %s", i, name, namePattern)
		}
		if t.Type != "" && t.Type != "function" {
			return fmt.Errorf("tools[%d]: unsupported tool type %q", i, t.Type)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("tools[%d]: duplicate function name %q", i, name)
		}
		seen[name] = struct{}{}
		if err := validateSchema(t.Function.Parameters); err != nil {
			return fmt.Errorf("tools[%d] (%s): %w", i, name, err)
		}
	}
	if choice != nil && choice.Mode == types.ToolChoiceFunction {
		if _, ok := seen[choice.FunctionName]; !ok {
			return fmt.Errorf("tool_choice names unknown function %q", choice.FunctionName)
		}
	}
	return nil
}

func validateSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if typ, ok := schema["type"]; ok {
		s, isStr := typ.(string)
		if !isStr || s != "object" {
			return fmt.Errorf("parameters schema type must be \"object\", got %v", typ)
		}
	}
	props, hasProps := schema["properties"].(map[string]any)
	if _, declared := schema["properties"]; declared && !hasProps {
		return fmt.Errorf("parameters properties must be an object")
	}
	if req, declared := schema["required"]; declared {
		list, isList := req.([]any)
		if !isList {
			return fmt.Errorf("parameters required must be an array of property names")
		}
		for _, r := range list {
			name, isStr := r.(string)
			if !isStr {
				return fmt.Errorf("parameters required entries must be strings")
			}
			if hasProps {
				if _, ok := props[name]; !ok {
					return fmt.Errorf("parameters required names undeclared property %q", name)
				}
			}
		}
	}
	return nil
}

// UnansweredCalls returns the IDs of assistant tool calls that have no
// matching role "tool" response later in the transcript, in call order.
// Backends tend to produce degenerate output on such transcripts, so
// callers log them.
func UnansweredCalls(messages []types.Message) []string {
	var order []string
	pending := make(map[string]struct{})
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" {
				continue
			}
			if _, ok := pending[tc.ID]; !ok {
				pending[tc.ID] = struct{}{}
				order = append(order, tc.ID)
			}
		}
		if msg.Role == types.RoleTool && msg.ToolCallID != "" {
			delete(pending, msg.ToolCallID)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pending))
	for _, id := range order {
		if _, ok := pending[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
