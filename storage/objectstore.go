package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// RESTObjectStore reads bulk export files from a Supabase-style storage API.
//
//	POST {url}/storage/v1/object/list/{bucket}   body: {prefix, limit, offset}
//	GET  {url}/storage/v1/object/{bucket}/{key}
//	HEAD {url}/storage/v1/object/{bucket}/{key}
type RESTObjectStore struct {
	baseURL string
	bucket  string
	apiKey  string
	client  *http.Client
}

// listPageSize is the page size used when walking the bucket listing.
const listPageSize = 100

// NewRESTObjectStore creates a client for one bucket.
func NewRESTObjectStore(baseURL, bucket, apiKey string) *RESTObjectStore {
	return &RESTObjectStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type listEntry struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Metadata struct {
		Size         int64  `json:"size"`
		ContentType  string `json:"mimetype"`
		LastModified string `json:"lastModified"`
	} `json:"metadata"`
}

// List returns at most maxKeys object keys under prefix whose names end with
// suffix. It pages through the listing endpoint until the store runs out of
// entries or enough keys are collected.
func (s *RESTObjectStore) List(ctx context.Context, prefix, suffix string, maxKeys int) ([]string, error) {
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	var keys []string
	offset := 0
	for len(keys) < maxKeys {
		body, err := json.Marshal(listRequest{Prefix: prefix, Limit: listPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}

		endpoint := fmt.Sprintf("%s/storage/v1/object/list/%s", s.baseURL, s.bucket)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		s.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("object store error (%d): %s", resp.StatusCode, string(respBody))
		}

		var entries []listEntry
		if err := json.Unmarshal(respBody, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse object listing: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, e := range entries {
			if suffix != "" && !strings.HasSuffix(e.Name, suffix) {
				continue
			}
			key := e.Name
			if prefix != "" {
				key = strings.TrimRight(prefix, "/") + "/" + e.Name
			}
			keys = append(keys, key)
			if len(keys) >= maxKeys {
				break
			}
		}

		if len(entries) < listPageSize {
			break
		}
		offset += len(entries)
	}

	return keys, nil
}

// ReadObject downloads the full object body.
func (s *RESTObjectStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body for %s: %w", key, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("object store error (%d) reading %s", resp.StatusCode, key)
	}
	return body, nil
}

// HeadObject probes object metadata without downloading. Missing objects
// return (nil, nil).
func (s *RESTObjectStore) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("object store error (%d) heading %s", resp.StatusCode, key)
	}

	info := &ObjectInfo{
		Key:         key,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        strings.Trim(resp.Header.Get("ETag"), `"`),
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		info.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			info.LastModified = t
		}
	}
	return info, nil
}

// objectURL escapes each key segment separately so nested keys keep their
// slashes.
func (s *RESTObjectStore) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, strings.Join(segments, "/"))
}

func (s *RESTObjectStore) setHeaders(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

// BulkSourceConfig is one entry in the bulk sources JSON config file.
type BulkSourceConfig struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	Bucket    string `json:"bucket"`
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// LoadBulkConfigs reads the bulk sources config file. A missing file yields an
// empty list, the curator simply has no bulk sources to import from.
func LoadBulkConfigs(path string) ([]BulkSourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bulk sources config: %w", err)
	}

	var configs []BulkSourceConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse bulk sources config: %w", err)
	}
	for i := range configs {
		if configs[i].APIKeyEnv != "" {
			configs[i].APIKey = os.Getenv(configs[i].APIKeyEnv)
		}
	}
	return configs, nil
}
