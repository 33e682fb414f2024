package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/retry"
	"github.com/semindex/semindex/internal/versionfile"
)

// insertBatchRetry bounds how many times a transient Upsert failure is
// retried before InsertBatch gives up, per spec.md §5's 3x exponential
// backoff requirement for store operations.
var insertBatchRetry = retry.DefaultConfig()

// RemoteCodeStore is the CodeStore backend for the remote multi-tenant
// deployment (spec.md §4.F Backend 2): one Qdrant collection per
// org/repo/branch, every point's payload carrying the full tenant
// quadruple plus chunk metadata so a single collection can host many
// repos/branches/commits. Grounded on RemoteStore's raw client plumbing
// (same collection-naming and connection setup); this type adds the
// payload-bearing row schema and filtered scan/query operations RemoteStore
// never needed when it only implemented the bare ID+vector VectorStore.
//
// Per the Open Question resolution in SPEC_FULL.md §5, the Version File
// is NOT shared with the embedded backend: a remote deployment has no
// single local "index root" to anchor a shared file on, so this backend
// keeps its own, rooted at versionDir.
type RemoteCodeStore struct {
	mu             sync.RWMutex
	client         *qdrant.Client
	collectionName string
	dimensions     uint64
	distance       qdrant.Distance
	tenant         chunk.Tenant
	version        *versionfile.File
	cachedVer      int64
	initialized    bool
}

// payloadRow is the JSON-encoded chunk metadata stored as one payload
// field; individually filterable fields (file, language, symbolType,
// symbolName, tenant quadruple) are mirrored as their own payload keys so
// Qdrant's payload index can filter on them without decoding JSON first.
type payloadRow struct {
	Chunk chunk.Chunk `json:"chunk"`
}

// NewRemoteCodeStore connects to Qdrant and ensures the tenant's
// collection exists. Per spec.md §9's correctness constraint, the remote
// backend refuses to start with an empty branch or commit SHA: tenant
// isolation is meaningless without both.
func NewRemoteCodeStore(ctx context.Context, cfg RemoteStoreConfig, tenant chunk.Tenant, versionDir string) (*RemoteCodeStore, error) {
	if tenant.Branch == "" || tenant.CommitSha == "" {
		return nil, fmt.Errorf("remote code store: tenant branch and commitSha are required, got branch=%q commitSha=%q", tenant.Branch, tenant.CommitSha)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	distance := qdrant.Distance_Cosine
	if cfg.Metric == "l2" {
		distance = qdrant.Distance_Euclid
	}

	collection := tenantCollectionName(Tenant{OrgID: tenant.OrgID, RepoID: tenant.RepoID, Branch: tenant.Branch, CommitSha: tenant.CommitSha})

	return &RemoteCodeStore{
		client:         client,
		collectionName: collection,
		dimensions:     uint64(cfg.Dimensions),
		distance:       distance,
		tenant:         tenant,
		version:        versionfile.New(versionDir),
	}, nil
}

func (s *RemoteCodeStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.client.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("%w: check collection %s: %v", ErrBackendUnavailable, s.collectionName, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dimensions,
				Distance: s.distance,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: create collection %s: %v", ErrBackendUnavailable, s.collectionName, err)
		}
	}

	v, err := s.version.Current()
	if err != nil {
		return fmt.Errorf("read version file: %w", err)
	}
	s.cachedVer = v
	s.initialized = true
	return nil
}

func (s *RemoteCodeStore) toPoint(c *chunk.Chunk, vector []float32) (*qdrant.PointStruct, error) {
	blob, err := json.Marshal(payloadRow{Chunk: *c})
	if err != nil {
		return nil, fmt.Errorf("marshal chunk payload: %w", err)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID(c)),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"chunk_json":  string(blob),
			"file":        c.File,
			"language":    c.Language,
			"symbolType":  string(c.SymbolType),
			"symbolName":  c.SymbolName,
			"orgId":       s.tenant.OrgID,
			"repoId":      s.tenant.RepoID,
			"branch":      s.tenant.Branch,
			"commitSha":   s.tenant.CommitSha,
			"startLine":   int64(c.StartLine),
			"endLine":     int64(c.EndLine),
		}),
	}, nil
}

// pointID is a deterministic digest of the chunk's own content-addressed
// ID, re-hashed into a UUID-shaped string because Qdrant point IDs must be
// either an integer or a UUID, never an arbitrary string.
func pointID(c *chunk.Chunk) string {
	sum := sha256.Sum256([]byte(c.ID))
	hexDigest := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexDigest[0:8], hexDigest[8:12], hexDigest[12:16], hexDigest[16:20], hexDigest[20:32])
}

func (s *RemoteCodeStore) tenantFilter() *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("orgId", s.tenant.OrgID),
			qdrant.NewMatch("repoId", s.tenant.RepoID),
			qdrant.NewMatch("branch", s.tenant.Branch),
			qdrant.NewMatch("commitSha", s.tenant.CommitSha),
		},
	}
}

func (s *RemoteCodeStore) InsertBatch(ctx context.Context, chunks []*chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrBatchLengthMismatch
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		if uint64(len(vectors[i])) != s.dimensions {
			return ErrDimensionMismatch{Expected: int(s.dimensions), Got: len(vectors[i])}
		}
		p, err := s.toPoint(c, vectors[i])
		if err != nil {
			return err
		}
		points = append(points, p)
	}

	upsertErr := retry.Do(ctx, insertBatchRetry, nil, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collectionName,
			Points:         points,
		})
		return err
	})
	if upsertErr != nil {
		return fmt.Errorf("%w: upsert points: %v", ErrBackendUnavailable, upsertErr)
	}
	return s.bumpVersion()
}

func (s *RemoteCodeStore) bumpVersion() error {
	v, err := s.version.Bump()
	if err != nil {
		return fmt.Errorf("bump version file: %w", err)
	}
	s.cachedVer = v
	return nil
}

func (s *RemoteCodeStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if uint64(len(queryVector)) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: int(s.dimensions), Got: len(queryVector)}
	}

	lim := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         s.tenantFilter(),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query points: %v", ErrBackendUnavailable, err)
	}

	hits := make([]SearchHit, 0, len(points))
	for _, p := range points {
		row, err := rowFromPayload(p.GetPayload())
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{
			Content:   row.Content,
			Metadata:  row,
			Score:     p.Score,
			Relevance: RelevanceForScore(p.Score),
		})
	}
	return hits, nil
}

func rowFromPayload(payload map[string]*qdrant.Value) (chunk.Chunk, error) {
	v, ok := payload["chunk_json"]
	if !ok {
		return chunk.Chunk{}, fmt.Errorf("payload missing chunk_json")
	}
	var row payloadRow
	if err := json.Unmarshal([]byte(v.GetStringValue()), &row); err != nil {
		return chunk.Chunk{}, fmt.Errorf("decode chunk payload: %w", err)
	}
	return row.Chunk, nil
}

func (s *RemoteCodeStore) scroll(ctx context.Context, filter *qdrant.Filter, limit int) ([]*chunk.Chunk, error) {
	if limit <= 0 {
		limit = 10_000 // implementation-defined high cap, per spec.md §4.F scanAll
	}
	lim := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName,
		Filter:         filter,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scroll points: %v", ErrBackendUnavailable, err)
	}

	out := make([]*chunk.Chunk, 0, len(points))
	for _, p := range points {
		row, err := rowFromPayload(p.GetPayload())
		if err != nil {
			continue
		}
		c := row
		out = append(out, &c)
	}
	return out, nil
}

func (s *RemoteCodeStore) ScanWithFilter(ctx context.Context, filter ScanFilter) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	qf := s.tenantFilter()
	if filter.Language != "" {
		qf.Must = append(qf.Must, qdrant.NewMatch("language", filter.Language))
	}
	if filter.File != "" {
		qf.Must = append(qf.Must, qdrant.NewMatch("file", filter.File))
	}

	rows, err := s.scroll(ctx, qf, filter.Limit)
	if err != nil {
		return nil, err
	}
	if filter.Pattern == "" {
		return rows, nil
	}

	var out []*chunk.Chunk
	for _, c := range rows {
		if pathMatchesPattern(c.File, filter.Pattern) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *RemoteCodeStore) ScanAll(ctx context.Context, filter ScanFilter) ([]*chunk.Chunk, error) {
	return s.ScanWithFilter(ctx, filter)
}

func (s *RemoteCodeStore) QuerySymbols(ctx context.Context, filter SymbolFilter) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	qf := s.tenantFilter()
	if filter.Language != "" {
		qf.Must = append(qf.Must, qdrant.NewMatch("language", filter.Language))
	}
	if filter.SymbolType != "" {
		qf.Must = append(qf.Must, qdrant.NewMatch("symbolType", string(filter.SymbolType)))
	}

	rows, err := s.scroll(ctx, qf, filter.Limit)
	if err != nil {
		return nil, err
	}

	var out []*chunk.Chunk
	for _, c := range rows {
		if !isSymbolKind(c.SymbolType) {
			continue
		}
		if filter.Pattern != "" && !pathMatchesPattern(c.SymbolName, filter.Pattern) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RemoteCodeStore) DeleteByFile(ctx context.Context, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.deleteByFilterLocked(ctx, file)
}

func (s *RemoteCodeStore) deleteByFilterLocked(ctx context.Context, file string) error {
	qf := s.tenantFilter()
	qf.Must = append(qf.Must, qdrant.NewMatch("file", file))

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points:         &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf}},
	})
	if err != nil {
		return fmt.Errorf("%w: delete points for %s: %v", ErrBackendUnavailable, file, err)
	}
	return s.bumpVersion()
}

func (s *RemoteCodeStore) UpdateFile(ctx context.Context, file string, chunks []*chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrBatchLengthMismatch
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if err := s.deleteByFilterLocked(ctx, file); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if len(chunks) == 0 {
		return nil
	}
	return s.InsertBatch(ctx, chunks, vectors)
}

// Clear deletes only points matching this store's tenant quadruple,
// leaving the rest of the shared collection untouched, per spec.md
// §4.F Backend 2.
func (s *RemoteCodeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points:         &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: s.tenantFilter()}},
	})
	if err != nil {
		return fmt.Errorf("%w: clear tenant scope: %v", ErrBackendUnavailable, err)
	}
	return s.bumpVersion()
}

func (s *RemoteCodeStore) HasData(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return false, ErrNotInitialized
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
		Filter:         s.tenantFilter(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: count tenant scope: %v", ErrBackendUnavailable, err)
	}
	return count > 0, nil
}

func (s *RemoteCodeStore) CheckVersion(ctx context.Context) (bool, error) {
	v, err := s.version.Current()
	if err != nil {
		return false, fmt.Errorf("check version file: %w", err)
	}
	s.mu.RLock()
	stale := v > s.cachedVer
	s.mu.RUnlock()
	return stale, nil
}

func (s *RemoteCodeStore) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.version.Read()
	if err != nil {
		return fmt.Errorf("reread version file: %w", err)
	}
	s.cachedVer = v
	return nil
}

func (s *RemoteCodeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false
	return s.client.Close()
}

// SearchCrossScope relaxes the tenant filter to org+optional repo
// allow-list+optional branch, implementing the CrossScopeStore trait.
// The embedded backend never implements this: it has exactly one tenant.
func (s *RemoteCodeStore) SearchCrossScope(ctx context.Context, queryVector []float32, limit int, filter CrossScopeFilter) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if uint64(len(queryVector)) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: int(s.dimensions), Got: len(queryVector)}
	}

	qf := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("orgId", s.tenant.OrgID)}}
	if filter.Branch != "" {
		qf.Must = append(qf.Must, qdrant.NewMatch("branch", filter.Branch))
	}
	if len(filter.RepoIDs) > 0 {
		should := make([]*qdrant.Condition, 0, len(filter.RepoIDs))
		for _, r := range filter.RepoIDs {
			should = append(should, qdrant.NewMatch("repoId", r))
		}
		qf.Should = should
	}

	lim := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         qf,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cross-scope query: %v", ErrBackendUnavailable, err)
	}

	hits := make([]SearchHit, 0, len(points))
	for _, p := range points {
		row, err := rowFromPayload(p.GetPayload())
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{Content: row.Content, Metadata: row, Score: p.Score, Relevance: RelevanceForScore(p.Score)})
	}
	return hits, nil
}

var (
	_ CodeStore        = (*RemoteCodeStore)(nil)
	_ CrossScopeStore  = (*RemoteCodeStore)(nil)
)
