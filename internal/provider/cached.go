package provider

import (
	"context"
)

// ResponseCache stores generated text keyed by prompt and parameters
type ResponseCache interface {
	GetLLMResponse(ctx context.Context, prompt string, params map[string]any) (string, bool)
	SetLLMResponse(ctx context.Context, prompt string, params map[string]any, text string) bool
}

type cachedProvider struct {
	Provider
	cache ResponseCache
}

// WithCache wraps p so identical generation requests are served from cache
func WithCache(p Provider, cache ResponseCache) Provider {
	if cache == nil {
		return p
	}
	return &cachedProvider{Provider: p, cache: cache}
}

func (c *cachedProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	params := map[string]any{
		"provider":    c.Name(),
		"model":       c.Model(),
		"system":      req.System,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	if text, ok := c.cache.GetLLMResponse(ctx, req.Prompt, params); ok {
		return &Response{Text: text, Cached: true}, nil
	}

	resp, err := c.Provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Text != "" {
		c.cache.SetLLMResponse(ctx, req.Prompt, params, resp.Text)
	}
	return resp, nil
}
