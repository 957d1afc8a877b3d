package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type CacheSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewCacheSQLiteStore(rdb, rwdb *sql.DB) *CacheSQLiteStore {
	return &CacheSQLiteStore{rdb, rwdb}
}

// UpsertCacheEntry records the latest successful save for a key. The last
// writer wins, matching the filesystem content next to it.
func (store *CacheSQLiteStore) UpsertCacheEntry(
	ctx context.Context,
	key string,
	paths []string,
) error {
	encoded, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	query := `insert into cache_entries (cache_key, paths, updated_on)
	values ($1, $2, current_timestamp)
	on conflict (cache_key) do update
	set paths = excluded.paths,
		updated_on = current_timestamp`
	_, err = store.rwdb.ExecContext(ctx, query, key, string(encoded))
	return err
}

func (store *CacheSQLiteStore) ReadCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	e := new(CacheEntry)
	query := "select * from cache_entries where cache_key = $1"
	if err := sqlscan.Get(ctx, store.rdb, e, query, key); err != nil {
		return nil, err
	}
	return e, nil
}

func (store *CacheSQLiteStore) ListCacheEntries(ctx context.Context) ([]CacheEntry, error) {
	query := "select * from cache_entries order by cache_key"
	entries := make([]CacheEntry, 0)
	err := sqlscan.Select(ctx, store.rdb, &entries, query)
	return entries, err
}

func (store *CacheSQLiteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	query := "delete from cache_entries where cache_key = $1"
	_, err := store.rwdb.ExecContext(ctx, query, key)
	return err
}
