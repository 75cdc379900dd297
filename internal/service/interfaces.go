package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"fichub_metadata/internal/domain"
)

type MetadataStore interface {
	Exists(ctx context.Context, source string) (bool, error)
	Insert(ctx context.Context, m *domain.Metadata) (int64, error)
	Upsert(ctx context.Context, m *domain.Metadata) (int64, bool, error)
	All(ctx context.Context) ([]domain.Metadata, error)
}

type Source interface {
	Supports(url string) bool
	FetchMetadata(ctx context.Context, url string) (*domain.Metadata, error)
}

// Ledger is an append-only list of URLs that can be reset as a whole.
type Ledger interface {
	Entries() (map[string]struct{}, error)
	Append(url string) error
	Clear() error
}

type Publisher interface {
	Publish(ctx context.Context, m *domain.Metadata, created bool) error
	Close() error
}
