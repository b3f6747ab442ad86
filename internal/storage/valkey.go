package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/l0p7/swkit/internal/fetch"
)

const defaultNamespace = "swkit:cache"

type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

type ValkeyConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	Namespace string
	TLS       ValkeyTLSConfig
}

// valkeyStorage keeps one hash per cache (url -> record) plus a registry
// hash of cache names to their creation sequence.
type valkeyStorage struct {
	client    valkey.Client
	namespace string
}

// NewValkey connects to a valkey/redis server and verifies it with PING.
func NewValkey(cfg ValkeyConfig) (Storage, error) {
	if cfg.Address == "" {
		return nil, errors.New("storage: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("storage: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("storage: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("storage: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: valkey ping: %w", err)
	}

	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &valkeyStorage{client: client, namespace: namespace}, nil
}

func (s *valkeyStorage) registryKey() string { return s.namespace + ":names" }
func (s *valkeyStorage) seqKey() string      { return s.namespace + ":seq" }
func (s *valkeyStorage) cacheKey(name string) string {
	return s.namespace + ":entries:" + name
}

func (s *valkeyStorage) nextSeq(ctx context.Context) (int64, error) {
	seq, err := s.client.Do(ctx, s.client.B().Incr().Key(s.seqKey()).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("storage: valkey incr: %w", err)
	}
	return seq, nil
}

func (s *valkeyStorage) register(ctx context.Context, name string) error {
	exists, err := s.Has(ctx, name)
	if err != nil || exists {
		return err
	}
	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}
	cmd := s.client.B().Hsetnx().Key(s.registryKey()).Field(name).Value(strconv.FormatInt(seq, 10)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storage: valkey register %s: %w", name, err)
	}
	return nil
}

func (s *valkeyStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := s.register(ctx, name); err != nil {
		return nil, err
	}
	return &valkeyCache{storage: s, name: name}, nil
}

func (s *valkeyStorage) Has(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Hexists().Key(s.registryKey()).Field(name).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("storage: valkey hexists: %w", err)
	}
	return n > 0, nil
}

func (s *valkeyStorage) Delete(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Hdel().Key(s.registryKey()).Field(name).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("storage: valkey hdel: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.cacheKey(name)).Build()).Error(); err != nil {
		return false, fmt.Errorf("storage: valkey del: %w", err)
	}
	return n > 0, nil
}

func (s *valkeyStorage) Names(ctx context.Context) ([]string, error) {
	registry, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.registryKey()).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("storage: valkey hgetall: %w", err)
	}
	type named struct {
		name string
		seq  int64
	}
	list := make([]named, 0, len(registry))
	for name, raw := range registry {
		seq, _ := strconv.ParseInt(raw, 10, 64)
		list = append(list, named{name: name, seq: seq})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].seq == list[j].seq {
			return list[i].name < list[j].name
		}
		return list[i].seq < list[j].seq
	})
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.name)
	}
	return out, nil
}

func (s *valkeyStorage) Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c := &valkeyCache{storage: s, name: name}
		resp, err := c.Match(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

func (s *valkeyStorage) Close(context.Context) error {
	s.client.Close()
	return nil
}

type valkeyCache struct {
	storage *valkeyStorage
	name    string
}

func (c *valkeyCache) Name() string { return c.name }

func (c *valkeyCache) Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if req == nil {
		return nil, nil
	}
	client := c.storage.client
	payload, err := client.Do(ctx, client.B().Hget().Key(c.storage.cacheKey(c.name)).Field(req.URL).Build()).AsBytes()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: valkey hget: %w", err)
	}
	var entry record
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("storage: valkey unmarshal: %w", err)
	}
	return entry.Response, nil
}

func (c *valkeyCache) Keys(ctx context.Context) ([]*fetch.Request, error) {
	client := c.storage.client
	raw, err := client.Do(ctx, client.B().Hgetall().Key(c.storage.cacheKey(c.name)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("storage: valkey hgetall: %w", err)
	}
	records := make([]record, 0, len(raw))
	for _, payload := range raw {
		var entry record
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("storage: valkey unmarshal: %w", err)
		}
		records = append(records, entry)
	}
	return sortedRequests(records), nil
}

func (c *valkeyCache) Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) error {
	if req == nil || resp == nil {
		return errors.New("storage: put requires request and response")
	}
	if err := c.storage.register(ctx, c.name); err != nil {
		return err
	}
	seq, err := c.storage.nextSeq(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record{Seq: seq, Request: req, Response: resp})
	if err != nil {
		return fmt.Errorf("storage: valkey marshal: %w", err)
	}
	client := c.storage.client
	cmd := client.B().Hset().Key(c.storage.cacheKey(c.name)).FieldValue().FieldValue(req.URL, string(payload)).Build()
	if err := client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storage: valkey hset: %w", err)
	}
	return nil
}

func (c *valkeyCache) Delete(ctx context.Context, req *fetch.Request) (bool, error) {
	if req == nil {
		return false, nil
	}
	client := c.storage.client
	n, err := client.Do(ctx, client.B().Hdel().Key(c.storage.cacheKey(c.name)).Field(req.URL).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("storage: valkey hdel: %w", err)
	}
	return n > 0, nil
}
