package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docsense/internal/model"
)

type DocumentCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewDocumentCache(client *redisv9.Client, ttl time.Duration) *DocumentCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &DocumentCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *DocumentCache) GetDocument(ctx context.Context, id string) (*model.Document, bool, error) {
	raw, err := c.client.Get(ctx, c.documentKey(id)).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get document failed: %w", err)
	}

	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached document failed: %w", err)
	}
	return &doc, true, nil
}

// SetDocument caches doc. Documents in flight are skipped since their row
// is about to change.
func (c *DocumentCache) SetDocument(ctx context.Context, doc *model.Document) error {
	if doc == nil || !doc.Status.Terminal() {
		return nil
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.documentKey(doc.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set document failed: %w", err)
	}
	return nil
}

func (c *DocumentCache) DeleteDocument(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.documentKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete document failed: %w", err)
	}
	return nil
}

func (c *DocumentCache) documentKey(id string) string {
	return fmt.Sprintf("document:%s", id)
}
