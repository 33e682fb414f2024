package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// RemoteStoreConfig configures the qdrant-backed multi-tenant vector store.
// Collection is derived from the tenant quadruple (org/repo/branch); commit
// SHA is carried as point payload so a query can be pinned to a commit
// without paying for a collection per commit.
type RemoteStoreConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Dimensions int
	Metric     string // "cos" or "l2", mirrors VectorStoreConfig.Metric
}

// RemoteStore implements VectorStore against a Qdrant collection, scoped to
// one org/repo/branch tenant. It is the Vector Store's remote backend,
// chosen for multi-tenant deployments where several teams share one
// indexing service; the embedded backend (HNSWStore) remains the default
// for a single local project.
type RemoteStore struct {
	mu             sync.RWMutex
	client         *qdrant.Client
	collectionName string
	dimensions     uint64
	distance       qdrant.Distance
	closed         bool
}

// NewRemoteStore connects to Qdrant and ensures the tenant's collection
// exists, creating it on first use.
func NewRemoteStore(ctx context.Context, cfg RemoteStoreConfig, tenant Tenant) (*RemoteStore, error) {
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

	collection := tenantCollectionName(tenant)

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", collection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(cfg.Dimensions),
				Distance: distance,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", collection, err)
		}
	}

	return &RemoteStore{
		client:         client,
		collectionName: collection,
		dimensions:     uint64(cfg.Dimensions),
		distance:       distance,
	}, nil
}

// tenantCollectionName derives a Qdrant collection name from the org/repo/
// branch portion of the tenant quadruple. Commit SHA is not part of the
// name: it is stored as point payload so a single collection serves every
// commit on a branch.
func tenantCollectionName(t Tenant) string {
	return fmt.Sprintf("semindex__%s__%s__%s", t.OrgID, t.RepoID, t.Branch)
}

// Tenant identifies the multi-tenant scope a RemoteStore is bound to. It
// mirrors chunk.Tenant; duplicated here so this package has no dependency
// on the chunk package.
type Tenant struct {
	OrgID     string
	RepoID    string
	Branch    string
	CommitSha string
}

func (s *RemoteStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		if uint64(len(vectors[i])) != s.dimensions {
			return ErrDimensionMismatch{Expected: int(s.dimensions), Got: len(vectors[i])}
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (s *RemoteStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if uint64(len(query)) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: int(s.dimensions), Got: len(query)}
	}

	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	results := make([]*VectorResult, 0, len(points))
	for _, p := range points {
		results = append(results, &VectorResult{
			ID:    p.Id.GetUuid(),
			Score: p.Score,
		})
	}
	return results, nil
}

func (s *RemoteStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// AllIDs is not supported remotely: a multi-tenant collection can hold
// far more points than is reasonable to page through for a consistency
// check. Callers needing full enumeration should scroll the collection
// directly via the qdrant client.
func (s *RemoteStore) AllIDs() []string {
	return nil
}

func (s *RemoteStore) Contains(id string) bool {
	ctx := context.Background()
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
	})
	if err != nil {
		return false
	}
	return len(points) > 0
}

func (s *RemoteStore) Count() int {
	ctx := context.Background()
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
	})
	if err != nil {
		return 0
	}
	return int(count)
}

// Save and Load are no-ops for the remote backend: Qdrant owns its own
// on-disk persistence, so there is nothing for this process to snapshot.
func (s *RemoteStore) Save(path string) error { return nil }
func (s *RemoteStore) Load(path string) error { return nil }

func (s *RemoteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var _ VectorStore = (*RemoteStore)(nil)
