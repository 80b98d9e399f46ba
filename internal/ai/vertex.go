package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"docsense/internal/pipeline"
)

// VertexProvider hands out one Vertex AI client per region, created on
// first use.
type VertexProvider struct {
	projectID string

	mu      sync.Mutex
	clients map[string]*vertexClient
}

func NewVertexProvider(projectID string) *VertexProvider {
	return &VertexProvider{
		projectID: strings.TrimSpace(projectID),
		clients:   make(map[string]*vertexClient),
	}
}

func (p *VertexProvider) Client(ctx context.Context, region string) (pipeline.ModelClient, error) {
	if p.projectID == "" {
		return nil, fmt.Errorf("vertex project is not configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[region]; ok {
		return c, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  p.projectID,
		Location: region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create vertex client for %s failed: %w", region, err)
	}
	c := &vertexClient{client: client}
	p.clients[region] = c
	return c, nil
}

type vertexClient struct {
	client *genai.Client
}

func (c *vertexClient) Generate(ctx context.Context, model, prompt string, params pipeline.GenerationParams) (*pipeline.GenerationResponse, error) {
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(params.Temperature),
		MaxOutputTokens: params.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex generate %s failed: %w", model, err)
	}

	out := &pipeline.GenerationResponse{}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		var parts []string
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
		out.Candidates = append(out.Candidates, pipeline.ResponseCandidate{Parts: parts})
	}
	if len(out.Candidates) > 0 {
		out.Text = strings.Join(out.Candidates[0].Parts, "")
	}
	return out, nil
}
