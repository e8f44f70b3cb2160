package types

import "time"

// OllamaChatRequest is the POST /chat request body. Stream defaults to true
// when omitted.
type OllamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   *bool          `json:"stream,omitempty"`
	Options  *OllamaOptions `json:"options,omitempty"`
	Tools    []Tool         `json:"tools,omitempty"`
}

// OllamaGenerateRequest is the POST /generate request body.
type OllamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  *bool          `json:"stream,omitempty"`
	Options *OllamaOptions `json:"options,omitempty"`
}

// OllamaOptions carries the sampling overrides recognized from the Ollama
// options map. Unknown options are ignored.
type OllamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        StopList `json:"stop,omitempty"`
}

// TagsResponse is the GET /tags envelope.
type TagsResponse struct {
	Models []TagModel `json:"models"`
}

// TagModel describes one installed model in Ollama tag form.
type TagModel struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails mirrors the Ollama details block.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ShowRequest is the POST /show request body. Ollama clients send either
// model or name.
type ShowRequest struct {
	Model string `json:"model"`
	Name  string `json:"name"`
}

// ModelName returns whichever identifier the client supplied.
func (r *ShowRequest) ModelName() string {
	if r.Model != "" {
		return r.Model
	}
	return r.Name
}

// ShowResponse is the POST /show envelope.
type ShowResponse struct {
	Modelfile    string       `json:"modelfile"`
	Parameters   string       `json:"parameters"`
	Template     string       `json:"template"`
	Details      ModelDetails `json:"details"`
	Capabilities []string     `json:"capabilities"`
}
