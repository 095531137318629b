package core

// Usage captures token usage statistics for a completed invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is produced once per successful single-shot invocation. Ownership
// passes to the caller.
type Result struct {
	Output       string `json:"output"`
	InvocationID string `json:"invocation_id"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Chunk is one unit of a streamed invocation. Its shape is defined by the
// backend; the engine never inspects it.
type Chunk struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Capabilities is the static descriptor a backend reports about itself.
type Capabilities struct {
	Streaming    bool     `json:"streaming"`
	Cancellation bool     `json:"cancellation"`
	Models       []string `json:"models"`
}
