package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the genai SDK
type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

// NewGemini creates a Gemini provider
func NewGemini(apiKey, model, embeddingModel string) (*GeminiProvider, error) {
	return newGeminiWithConfig(&genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model, embeddingModel)
}

func newGeminiWithConfig(cc *genai.ClientConfig, model, embeddingModel string) (*GeminiProvider, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

// Name returns the provider name
func (g *GeminiProvider) Name() string { return "gemini" }

// Model returns the generation model
func (g *GeminiProvider) Model() string { return g.model }

// Generate runs one completion
func (g *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}

	var genResp *genai.GenerateContentResponse
	err := Retry(ctx, func(ctx context.Context) error {
		var callErr error
		genResp, callErr = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	return parseGeminiResponse(genResp)
}

func parseGeminiResponse(genResp *genai.GenerateContentResponse) (*Response, error) {
	if genResp == nil || len(genResp.Candidates) == 0 {
		return nil, errors.New("empty response from Gemini")
	}

	candidate := genResp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("gemini returned no text (finish reason %s)", candidate.FinishReason)
	}

	resp := &Response{Text: sb.String()}
	if genResp.UsageMetadata != nil {
		resp.PromptTokens = int(genResp.UsageMetadata.PromptTokenCount)
		resp.CompletionTokens = int(genResp.UsageMetadata.CandidatesTokenCount)
	}
	return resp, nil
}

// Embed returns the embedding vector for text
func (g *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
	}}

	var embResp *genai.EmbedContentResponse
	err := Retry(ctx, func(ctx context.Context) error {
		var callErr error
		embResp, callErr = g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if embResp == nil || len(embResp.Embeddings) == 0 || len(embResp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini returned no embedding")
	}
	return embResp.Embeddings[0].Values, nil
}
