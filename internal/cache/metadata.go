package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/swerr"
)

// MetaCacheSuffix names the reserved cache holding metadata records.
const MetaCacheSuffix = "__meta"

// Metadata is the attribute bag stored for one URL.
type Metadata map[string]any

// Record maps request URLs to their metadata for one target cache.
type Record map[string]Metadata

// MetaQuery addresses metadata. An empty CacheName targets the default
// cache; an empty URL addresses the whole record.
type MetaQuery struct {
	URL       string
	CacheName string
}

// RecordStore persists one Record per target cache.
type RecordStore interface {
	Load(ctx context.Context, target string) (Record, bool, error)
	Save(ctx context.Context, target string, rec Record) error
	Drop(ctx context.Context, target string) (bool, error)
}

// MetaStore reads and rewrites metadata records. Updates are
// read-modify-write over the whole record without locking.
type MetaStore struct {
	store   *Store
	records RecordStore
}

// NewMetaStore returns a MetaStore persisting into the reserved meta cache
// of store.
func NewMetaStore(store *Store) *MetaStore {
	return NewMetaStoreWith(store, &cacheRecords{store: store})
}

// NewMetaStoreWith returns a MetaStore over a custom RecordStore. store is
// still used to normalise URLs and resolve the default cache name.
func NewMetaStoreWith(store *Store, records RecordStore) *MetaStore {
	return &MetaStore{store: store, records: records}
}

// MetaCacheName is the full name of the reserved meta cache.
func (m *MetaStore) MetaCacheName() string {
	return m.store.CacheName(MetaCacheSuffix)
}

// EntryURL is the synthetic request path under which the record for
// cacheName is stored.
func (m *MetaStore) EntryURL(cacheName string) string {
	return entryPath(m.store, cacheName)
}

func entryPath(store *Store, cacheName string) string {
	if cacheName == "" {
		cacheName = store.DefaultCacheName()
	}
	return "/" + store.CacheName(MetaCacheSuffix) + "/" + cacheName
}

func (m *MetaStore) target(q MetaQuery) string {
	if q.CacheName == "" {
		return m.store.DefaultCacheName()
	}
	return q.CacheName
}

func (m *MetaStore) key(raw string) (string, error) {
	req, err := m.store.Normalize(fetch.URL(raw))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Record returns the whole record for cacheName, empty when none is stored.
func (m *MetaStore) Record(ctx context.Context, cacheName string) (Record, error) {
	rec, _, err := m.records.Load(ctx, m.target(MetaQuery{CacheName: cacheName}))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

// GetMetaData returns the bag for q.URL, or the whole record keyed by URL
// when q.URL is empty. Missing data yields an empty bag.
func (m *MetaStore) GetMetaData(ctx context.Context, q MetaQuery) (Metadata, error) {
	rec, err := m.Record(ctx, q.CacheName)
	if err != nil {
		return nil, err
	}
	if q.URL == "" {
		out := make(Metadata, len(rec))
		for url, bag := range rec {
			out[url] = bag
		}
		return out, nil
	}
	key, err := m.key(q.URL)
	if err != nil {
		return nil, err
	}
	if bag, ok := rec[key]; ok && bag != nil {
		return bag, nil
	}
	return Metadata{}, nil
}

// SetMetaData writes metadata. With a URL the bag for that URL is replaced
// and the rest of the record kept; without one metadata replaces the whole
// record and each value must itself be an object. A nil metadata without a
// URL is a no-op returning nil; with a URL it drops that key.
func (m *MetaStore) SetMetaData(ctx context.Context, q MetaQuery, metadata Metadata) (Metadata, error) {
	target := m.target(q)
	if q.URL == "" {
		if metadata == nil {
			return nil, nil
		}
		rec, err := recordFromMetadata(metadata)
		if err != nil {
			return nil, err
		}
		if err := m.records.Save(ctx, target, rec); err != nil {
			return nil, err
		}
		return metadata, nil
	}

	key, err := m.key(q.URL)
	if err != nil {
		return nil, err
	}
	rec, err := m.Record(ctx, q.CacheName)
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		delete(rec, key)
	} else {
		rec[key] = metadata
	}
	if err := m.records.Save(ctx, target, rec); err != nil {
		return nil, err
	}
	return metadata, nil
}

// DeleteMetaData removes the bag for q.URL, dropping the stored record when
// it becomes empty. With only a cache name the record is dropped outright.
// With neither it reports false.
func (m *MetaStore) DeleteMetaData(ctx context.Context, q MetaQuery) (bool, error) {
	if q.URL == "" {
		if q.CacheName == "" {
			return false, nil
		}
		return m.records.Drop(ctx, q.CacheName)
	}

	key, err := m.key(q.URL)
	if err != nil {
		return false, err
	}
	target := m.target(q)
	rec, err := m.Record(ctx, q.CacheName)
	if err != nil {
		return false, err
	}
	delete(rec, key)
	if len(rec) == 0 {
		return m.records.Drop(ctx, target)
	}
	if err := m.records.Save(ctx, target, rec); err != nil {
		return false, err
	}
	return true, nil
}

func recordFromMetadata(metadata Metadata) (Record, error) {
	rec := make(Record, len(metadata))
	for url, value := range metadata {
		switch bag := value.(type) {
		case Metadata:
			rec[url] = bag
		case map[string]any:
			rec[url] = Metadata(bag)
		case nil:
		default:
			return nil, swerr.ExpectedType(url, "object")
		}
	}
	return rec, nil
}

// cacheRecords keeps each record as the JSON body of a synthetic entry in
// the reserved meta cache.
type cacheRecords struct {
	store *Store
}

func (c *cacheRecords) request(target string) fetch.URL {
	return fetch.URL(entryPath(c.store, target))
}

func (c *cacheRecords) Load(ctx context.Context, target string) (Record, bool, error) {
	resp, err := c.store.Match(ctx, c.request(target), WithCacheName(c.store.CacheName(MetaCacheSuffix)))
	if err != nil {
		return nil, false, err
	}
	if resp == nil {
		return Record{}, false, nil
	}
	rec := Record{}
	if err := resp.JSON(&rec); err != nil {
		return nil, false, fmt.Errorf("cache: decode metadata for %s: %w", target, err)
	}
	return rec, true, nil
}

func (c *cacheRecords) Save(ctx context.Context, target string, rec Record) error {
	if rec == nil {
		rec = Record{}
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encode metadata for %s: %w", target, err)
	}
	req, err := c.store.Normalize(c.request(target))
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	resp := fetch.NewResponse(http.StatusOK, body, header)
	resp.URL = req.URL
	return c.store.Put(ctx, req, resp, WithCacheName(c.store.CacheName(MetaCacheSuffix)))
}

func (c *cacheRecords) Drop(ctx context.Context, target string) (bool, error) {
	return c.store.Remove(ctx, c.request(target), WithCacheName(c.store.CacheName(MetaCacheSuffix)))
}
