package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gcsapi "google.golang.org/api/storage/v1"

	"oreai/backend/internal/config"
)

// promptStore fetches prompt documents from object storage.
type promptStore interface {
	GetObject(ctx context.Context, objectPath string) ([]byte, error)
}

type gcsPromptStore struct {
	bucketName string
	service    *gcsapi.Service
}

func newGCSPromptStore(ctx context.Context, bucketName string) (*gcsPromptStore, error) {
	trimmedBucket := strings.TrimSpace(bucketName)
	if trimmedBucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs service: %w", err)
	}

	if _, err := service.Buckets.Get(trimmedBucket).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("read gcs bucket attrs: %w", err)
	}

	return &gcsPromptStore{bucketName: trimmedBucket, service: service}, nil
}

func (s *gcsPromptStore) GetObject(ctx context.Context, objectPath string) ([]byte, error) {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return nil, errors.New("object path is required")
	}

	resp, err := s.service.Objects.Get(s.bucketName, cleanPath).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("read gcs object %q: %w", cleanPath, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %q body: %w", cleanPath, err)
	}
	return data, nil
}

// LoadSystemPrompt resolves the agent's system prompt at startup, reaching
// object storage only when an object key is configured. An empty result means
// the built-in default prompt applies.
func LoadSystemPrompt(ctx context.Context, cfg config.Config, log *slog.Logger) string {
	var store promptStore
	if cfg.AgentSystemPrompt == "" && cfg.AgentSystemPromptObjectKey != "" {
		gcs, err := newGCSPromptStore(ctx, cfg.AgentPromptsBucket)
		if err != nil {
			log.Warn("connecting to prompt bucket",
				"bucket", cfg.AgentPromptsBucket,
				"error", err,
			)
		} else {
			store = gcs
		}
	}
	return ResolveSystemPrompt(ctx, cfg, store, log)
}

// ResolveSystemPrompt picks the agent's system prompt: an inline configured
// prompt wins, then one fetched from object storage, then the built-in
// default. A storage failure downgrades to the default with a warning
// because the assistant must keep answering.
func ResolveSystemPrompt(ctx context.Context, cfg config.Config, store promptStore, log *slog.Logger) string {
	if cfg.AgentSystemPrompt != "" {
		return cfg.AgentSystemPrompt
	}
	if cfg.AgentSystemPromptObjectKey == "" || store == nil {
		return ""
	}

	data, err := store.GetObject(ctx, cfg.AgentSystemPromptObjectKey)
	if err != nil {
		log.Warn("loading system prompt from object storage",
			"bucket", cfg.AgentPromptsBucket,
			"object", cfg.AgentSystemPromptObjectKey,
			"error", err,
		)
		return ""
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		log.Warn("system prompt object is empty",
			"bucket", cfg.AgentPromptsBucket,
			"object", cfg.AgentSystemPromptObjectKey,
		)
	}
	return prompt
}
