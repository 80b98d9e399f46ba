package ai

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"docsense/internal/pipeline"
)

type DocumentAIConfig struct {
	ProjectID       string
	Location        string
	ProcessorID     string
	CredentialsFile string
}

// DocumentAI submits documents to a Google Document AI processor.
type DocumentAI struct {
	client *documentai.DocumentProcessorClient
	name   string
}

func NewDocumentAI(ctx context.Context, cfg DocumentAIConfig) (*DocumentAI, error) {
	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, fmt.Errorf("document ai project and processor must be configured")
	}
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "us"
	}
	opts := []option.ClientOption{option.WithEndpoint(location + "-documentai.googleapis.com:443")}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create document ai client failed: %w", err)
	}
	return &DocumentAI{
		client: client,
		name:   fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.ProjectID, location, cfg.ProcessorID),
	}, nil
}

func (*DocumentAI) Name() string { return "documentai" }

func (d *DocumentAI) Process(ctx context.Context, content []byte, mimeType string) (*pipeline.OCRResult, error) {
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	doc := resp.GetDocument()
	result := &pipeline.OCRResult{
		Text:      doc.GetText(),
		PageCount: len(doc.GetPages()),
	}
	for _, entity := range doc.GetEntities() {
		result.Entities = append(result.Entities, pipeline.Entity{
			Type:        entity.GetType(),
			MentionText: entity.GetMentionText(),
		})
	}
	return result, nil
}

func (d *DocumentAI) Close() error {
	return d.client.Close()
}
