package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const (
	entryKeyPrefix = "portaledge:entry:"
	tagKeyPrefix   = "portaledge:tag:"
)

// ValkeyTLSConfig controls TLS for the valkey connection.
type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig carries the connection settings for the shared surrogate cache.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
}

// ValkeyCache implements Store and Invalidator against a shared valkey
// backend so several portal instances see the same purge effects.
type ValkeyCache struct {
	client valkey.Client
}

// NewValkey connects to a valkey/redis-compatible backend and verifies it with
// a ping before handing it to callers. Entries live under one key per path and
// each tag maintains a set of the entry keys it labels, so a tag purge is a
// set read plus a batched delete.
func NewValkey(cfg ValkeyConfig) (*ValkeyCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
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
				return nil, fmt.Errorf("cache: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &ValkeyCache{client: client}, nil
}

func (c *ValkeyCache) Lookup(ctx context.Context, path string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(entryKeyPrefix+path).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: valkey unmarshal: %w", err)
	}
	return entry, true, nil
}

func (c *ValkeyCache) Store(ctx context.Context, path string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		return errors.New("cache: valkey entry expiry required")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: valkey marshal: %w", err)
	}
	key := entryKeyPrefix + path
	if err := c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	for _, tag := range entry.Tags {
		cmd := c.client.B().Sadd().Key(tagKeyPrefix + tag).Member(key).Build()
		if err := c.client.Do(ctx, cmd).Error(); err != nil {
			return fmt.Errorf("cache: valkey tag index: %w", err)
		}
	}
	return nil
}

func (c *ValkeyCache) PurgeTag(ctx context.Context, tag string) (int64, error) {
	setKey := tagKeyPrefix + tag
	members, err := c.client.Do(ctx, c.client.B().Smembers().Key(setKey).Build()).AsStrSlice()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("cache: valkey smembers: %w", err)
	}
	var removed int64
	if len(members) > 0 {
		resp := c.client.Do(ctx, c.client.B().Del().Key(members...).Build())
		removed, err = resp.ToInt64()
		if err != nil {
			return 0, fmt.Errorf("cache: valkey del entries: %w", err)
		}
	}
	if err := c.client.Do(ctx, c.client.B().Del().Key(setKey).Build()).Error(); err != nil {
		return removed, fmt.Errorf("cache: valkey del tag: %w", err)
	}
	return removed, nil
}

func (c *ValkeyCache) PurgePath(ctx context.Context, path string) (int64, error) {
	resp := c.client.Do(ctx, c.client.B().Del().Key(entryKeyPrefix+path).Build())
	removed, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: valkey del path: %w", err)
	}
	return removed, nil
}

func (c *ValkeyCache) Size(ctx context.Context) (int64, error) {
	size, err := c.client.Do(ctx, c.client.B().Dbsize().Build()).ToInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: valkey dbsize: %w", err)
	}
	return size, nil
}

func (c *ValkeyCache) Close(context.Context) error {
	c.client.Close()
	return nil
}
