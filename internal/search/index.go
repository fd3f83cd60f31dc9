package search

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/zombor/vouch/internal/receipt"
)

//go:embed mapping.json
var mapping []byte

const DefaultIndexName = "receipts"

// Index keeps searchable copies of receipts in OpenSearch.
type Index struct {
	addresses          []string
	username           string
	password           string
	insecureSkipVerify bool
	name               string
	refresh            string

	client *opensearch.Client
}

var _ receipt.Index = (*Index)(nil)

type Option func(*Index)

func WithCredentials(username, password string) Option {
	return func(i *Index) {
		i.username = username
		i.password = password
	}
}

func WithInsecureSkipVerify() Option {
	return func(i *Index) {
		i.insecureSkipVerify = true
	}
}

func WithIndexName(name string) Option {
	return func(i *Index) {
		i.name = name
	}
}

// WithRefresh sets the refresh mode for writes: "true", "false" or "wait_for".
func WithRefresh(mode string) Option {
	return func(i *Index) {
		i.refresh = mode
	}
}

// New creates an Index. It does not contact the cluster; call EnsureIndex
// before first use.
func New(addresses []string, opts ...Option) (*Index, error) {
	idx := &Index{
		addresses: addresses,
		name:      DefaultIndexName,
	}
	for _, opt := range opts {
		opt(idx)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: idx.insecureSkipVerify}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: idx.addresses,
		Username:  idx.username,
		Password:  idx.password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating opensearch client: %w", err)
	}
	idx.client = client
	return idx, nil
}

// Name returns the index name.
func (i *Index) Name() string {
	return i.name
}

// EnsureIndex creates the index with the receipt mapping if it is missing.
func (i *Index) EnsureIndex(ctx context.Context) error {
	exists := opensearchapi.IndicesExistsRequest{Index: []string{i.name}}
	res, err := exists.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", i.name, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	create := opensearchapi.IndicesCreateRequest{Index: i.name, Body: bytes.NewReader(mapping)}
	res, err = create.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", i.name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		err := decodeError(res)
		if strings.Contains(err.Error(), "resource_already_exists") {
			return nil
		}
		return fmt.Errorf("creating index %s: %w", i.name, err)
	}
	slog.Info("Created search index", "index", i.name)
	return nil
}

// source is the indexed form of a document: the stored fields plus the
// receipt id, which doubles as the OpenSearch document id.
func source(id string, doc *receipt.Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "id")
	m["receipt_id"] = id
	return json.Marshal(m)
}

func (i *Index) IndexDocument(ctx context.Context, id string, doc *receipt.Document) error {
	body, err := source(id, doc)
	if err != nil {
		return fmt.Errorf("encoding receipt %s: %w", id, err)
	}

	req := opensearchapi.IndexRequest{
		Index:      i.name,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    i.refresh,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("indexing receipt %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("indexing receipt %s: %w", id, decodeError(res))
	}
	slog.Debug("Indexed receipt", "receipt_id", id, "index", i.name)
	return nil
}

// Hit is one raw search hit.
type Hit struct {
	ID         string
	Score      float64
	Source     map[string]any
	Highlights map[string][]string
}

// Result is the raw outcome of Run.
type Result struct {
	Total int
	Hits  []Hit
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID        string              `json:"_id"`
			Score     float64             `json:"_score"`
			Source    map[string]any      `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
			InnerHits map[string]struct {
				Hits struct {
					Hits []struct {
						Highlight map[string][]string `json:"highlight"`
					} `json:"hits"`
				} `json:"hits"`
			} `json:"inner_hits"`
		} `json:"hits"`
	} `json:"hits"`
}

// Run executes a compiled query. skip and limit map to from and size.
func (i *Index) Run(ctx context.Context, query Query, skip, limit int) (*Result, error) {
	body, err := json.Marshal(requestBody(query, skip, limit))
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{i.name},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", i.name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("searching %s: %w", i.name, decodeError(res))
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	out := &Result{Total: sr.Hits.Total.Value, Hits: make([]Hit, 0, len(sr.Hits.Hits))}
	for _, h := range sr.Hits.Hits {
		hl := map[string][]string{}
		for field, frags := range h.Highlight {
			hl[field] = append(hl[field], frags...)
		}
		for _, inner := range h.InnerHits {
			for _, ih := range inner.Hits.Hits {
				for field, frags := range ih.Highlight {
					hl[field] = append(hl[field], frags...)
				}
			}
		}
		if len(hl) == 0 {
			hl = nil
		}
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: h.Score, Source: h.Source, Highlights: hl})
	}
	return out, nil
}

// Search builds and runs the query, turning each hit back into a Receipt.
// A hit whose source no longer passes validation fails the whole search.
func (i *Index) Search(ctx context.Context, q receipt.SearchQuery) (*receipt.SearchResult, error) {
	res, err := i.Run(ctx, Build(q), q.Skip, q.Limit)
	if err != nil {
		return nil, err
	}

	out := &receipt.SearchResult{Total: res.Total, Hits: make([]receipt.SearchHit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		r, err := receipt.Parse(h.Source)
		if err != nil {
			return nil, fmt.Errorf("search hit %s: %w", h.ID, err)
		}
		out.Hits = append(out.Hits, receipt.SearchHit{
			ID:         h.ID,
			Score:      h.Score,
			Receipt:    r,
			Highlights: h.Highlights,
		})
	}
	return out, nil
}

// Delete removes the indexed copy. A missing document is not an error.
func (i *Index) Delete(ctx context.Context, id string) error {
	req := opensearchapi.DeleteRequest{
		Index:      i.name,
		DocumentID: id,
		Refresh:    i.refresh,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("deleting receipt %s from index: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		slog.Debug("Receipt was not indexed", "receipt_id", id)
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("deleting receipt %s from index: %w", id, decodeError(res))
	}
	return nil
}

func (i *Index) HealthCheck(ctx context.Context) bool {
	req := opensearchapi.ClusterHealthRequest{}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		slog.Warn("Search health check failed", "error", err)
		return false
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	return !res.IsError()
}

var errUnexpectedStatus = errors.New("unexpected opensearch response")

func decodeError(res *opensearchapi.Response) error {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Error.Type == "" {
		return fmt.Errorf("%w: %s", errUnexpectedStatus, res.Status())
	}
	return fmt.Errorf("%w: %s: %s: %s", errUnexpectedStatus, res.Status(), body.Error.Type, body.Error.Reason)
}
