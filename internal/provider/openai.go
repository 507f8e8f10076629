package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider calls an OpenAI-compatible Chat Completions endpoint
type OpenAIProvider struct {
	client         openai.Client
	model          string
	embeddingModel string
}

// NewOpenAI creates an OpenAI-compatible provider. baseURL may be empty.
func NewOpenAI(apiKey, baseURL, model, embeddingModel string, extra ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	return &OpenAIProvider{
		client:         openai.NewClient(opts...),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

// Name returns the provider name
func (o *OpenAIProvider) Name() string { return "openai" }

// Model returns the generation model
func (o *OpenAIProvider) Model() string { return o.model }

// Generate runs one completion
func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	var completion *openai.ChatCompletion
	err := Retry(ctx, func(ctx context.Context) error {
		var callErr error
		completion, callErr = o.client.Chat.Completions.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, errors.New("empty response from OpenAI")
	}

	return &Response{
		Text:             completion.Choices[0].Message.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

// Embed returns the embedding vector for text
func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
	}

	var resp *openai.CreateEmbeddingResponse
	err := Retry(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = o.client.Embeddings.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai returned no embedding")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
