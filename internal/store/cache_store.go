package store

import (
	"context"
	"time"
)

type CacheEntry struct {
	CacheKey  string
	Paths     string
	UpdatedOn time.Time
}

type CacheEntryStore interface {
	UpsertCacheEntry(context.Context, string, []string) error
	ReadCacheEntry(context.Context, string) (*CacheEntry, error)
	ListCacheEntries(context.Context) ([]CacheEntry, error)
	DeleteCacheEntry(context.Context, string) error
}
