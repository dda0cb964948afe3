package api

import "github.com/samcharles93/kindle/internal/model"

// GenerateRequest is the body of POST /v1/generate. Unset sampling fields
// fall back to the model's generation defaults.
type GenerateRequest struct {
	Model       string   `json:"model,omitempty"`
	Tokens      []int    `json:"tokens"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Stop        []int    `json:"stop,omitempty"`
	Stream      *bool    `json:"stream,omitempty"`
	Store       *bool    `json:"store,omitempty"`
}

type Generation struct {
	ID           string           `json:"id"`
	Object       string           `json:"object"`
	CreatedAt    int64            `json:"created_at"`
	CompletedAt  *int64           `json:"completed_at,omitempty"`
	Status       string           `json:"status"`
	Model        string           `json:"model,omitempty"`
	Prompt       []int            `json:"prompt"`
	Tokens       []int            `json:"tokens"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Sampling     *SamplingOptions `json:"sampling,omitempty"`
	Seed         int64            `json:"seed"`
	Usage        *Usage           `json:"usage,omitempty"`
	Error        *ResponseError   `json:"error,omitempty"`
}

type SamplingOptions struct {
	Temperature float32 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float32 `json:"top_p"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	DurationMS       int64   `json:"duration_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type DeleteGenerationResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ModelInfo struct {
	ID              string                 `json:"id"`
	Object          string                 `json:"object"`
	OwnedBy         string                 `json:"owned_by"`
	Hyperparameters *model.Hyperparameters `json:"hyperparameters,omitempty"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type streamEvent struct {
	Type           string      `json:"type"`
	SequenceNumber int         `json:"sequence_number"`
	Generation     *Generation `json:"generation,omitempty"`
	Index          *int        `json:"index,omitempty"`
	Token          *int        `json:"token,omitempty"`
}
