package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/openviking/openviking/pkg/config"
	ovuri "github.com/openviking/openviking/pkg/uri"
)

// Qdrant is the remote index backend. Point ids are UUIDv5 digests of the
// record URI so upserts stay idempotent; prefix operations scroll the scope
// and match URIs client-side, since payload indexes cannot express
// segment-boundary prefixes.
type Qdrant struct {
	client       *qdrant.Client
	collection   string
	sparseWeight float64

	mu      sync.Mutex
	ensured bool
}

var _ DB = (*Qdrant)(nil)

func NewQdrant(cfg config.VectorDBConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return &Qdrant{
		client:       client,
		collection:   cfg.Collection,
		sparseWeight: cfg.SparseWeight,
	}, nil
}

func pointID(u string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(u)).String()
}

func (q *Qdrant) ensureCollection(ctx context.Context, vectorSize uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	q.ensured = true
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, uint64(len(records[0].Dense))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload, err := recordPayload(r)
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(r.URI)),
			Vectors: qdrant.NewVectors(r.Dense...),
			Payload: payload,
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func recordPayload(r Record) (map[string]*qdrant.Value, error) {
	sparse, err := json.Marshal(r.Sparse)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sparse vector for %s: %w", r.URI, err)
	}
	payload := map[string]*qdrant.Value{
		"uri":          qdrant.NewValueString(r.URI),
		"parent_uri":   qdrant.NewValueString(r.ParentURI),
		"scope":        qdrant.NewValueString(r.Scope),
		"context_type": qdrant.NewValueString(r.ContextType),
		"name":         qdrant.NewValueString(r.Name),
		"description":  qdrant.NewValueString(r.Description),
		"depth":        qdrant.NewValueInt(int64(r.Depth)),
		"is_dir":       qdrant.NewValueBool(r.IsDir),
		"active_count": qdrant.NewValueInt(int64(r.ActiveCount)),
		"abstract":     qdrant.NewValueString(r.Abstract),
		"sparse":       qdrant.NewValueString(string(sparse)),
	}
	if !r.CreatedAt.IsZero() {
		payload["created_at"] = qdrant.NewValueString(r.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	return payload, nil
}

func recordFromPayload(payload map[string]*qdrant.Value, dense []float32) Record {
	r := Record{Dense: dense}
	if v, ok := payload["uri"]; ok {
		r.URI = v.GetStringValue()
	}
	if v, ok := payload["parent_uri"]; ok {
		r.ParentURI = v.GetStringValue()
	}
	if v, ok := payload["scope"]; ok {
		r.Scope = v.GetStringValue()
	}
	if v, ok := payload["context_type"]; ok {
		r.ContextType = v.GetStringValue()
	}
	if v, ok := payload["name"]; ok {
		r.Name = v.GetStringValue()
	}
	if v, ok := payload["description"]; ok {
		r.Description = v.GetStringValue()
	}
	if v, ok := payload["active_count"]; ok {
		r.ActiveCount = int(v.GetIntegerValue())
	}
	if v, ok := payload["created_at"]; ok && v.GetStringValue() != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			r.CreatedAt = ts
		}
	}
	if v, ok := payload["depth"]; ok {
		r.Depth = int(v.GetIntegerValue())
	}
	if v, ok := payload["is_dir"]; ok {
		r.IsDir = v.GetBoolValue()
	}
	if v, ok := payload["abstract"]; ok {
		r.Abstract = v.GetStringValue()
	}
	if v, ok := payload["sparse"]; ok && v.GetStringValue() != "" {
		_ = json.Unmarshal([]byte(v.GetStringValue()), &r.Sparse)
	}
	return r
}

func (q *Qdrant) Get(ctx context.Context, u string) (Record, bool, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(u))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get point %s: %w", u, err)
	}
	if len(points) == 0 {
		return Record{}, false, nil
	}
	return recordFromPayload(points[0].Payload, denseOf(points[0].Vectors)), true, nil
}

func denseOf(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if v := vectors.GetVector(); v != nil {
		if d := v.GetDense(); d != nil {
			return d.Data
		}
	}
	return nil
}

func (q *Qdrant) Delete(ctx context.Context, uris ...string) error {
	if len(uris) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, 0, len(uris))
	for _, u := range uris {
		ids = append(ids, qdrant.NewID(pointID(u)))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (q *Qdrant) DeletePrefix(ctx context.Context, prefix string) error {
	uris, err := q.ListPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	return q.Delete(ctx, uris...)
}

func (q *Qdrant) RenamePrefix(ctx context.Context, oldPrefix, newPrefix string) error {
	records, err := q.scroll(ctx, scopeOf(oldPrefix))
	if err != nil {
		return err
	}

	var moved []Record
	var oldURIs []string
	for _, r := range records {
		if !ovuri.HasPrefixString(r.URI, oldPrefix) {
			continue
		}
		nu, err := ovuri.Parse(ovuri.Rebase(r.URI, oldPrefix, newPrefix))
		if err != nil {
			return fmt.Errorf("rename %s under %s: %w", r.URI, newPrefix, err)
		}
		oldURIs = append(oldURIs, r.URI)
		if r.URI == oldPrefix {
			// The moved root's parent lies outside the renamed subtree.
			r.ParentURI = nu.ParentString()
		} else {
			r.ParentURI = ovuri.Rebase(r.ParentURI, oldPrefix, newPrefix)
		}
		r.URI = nu.String()
		r.Depth = nu.Depth()
		r.Scope = string(nu.Scope())
		moved = append(moved, r)
	}
	if len(moved) == 0 {
		return nil
	}
	// New ids first so a crash between the two calls loses nothing.
	if err := q.Upsert(ctx, moved); err != nil {
		return err
	}
	return q.Delete(ctx, oldURIs...)
}

func scopeOf(u string) string {
	rest := strings.TrimPrefix(u, ovuri.Scheme)
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i]
	}
	return rest
}

func (q *Qdrant) scroll(ctx context.Context, scope string) ([]Record, error) {
	var filter *qdrant.Filter
	if scope != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("scope", scope)},
		}
	}

	var records []Record
	var offset *qdrant.PointId
	for {
		req := &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(256)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		}
		points, err := q.client.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to scroll collection: %w", err)
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			records = append(records, recordFromPayload(p.Payload, denseOf(p.Vectors)))
		}
		if len(points) < 256 {
			break
		}
		offset = points[len(points)-1].Id
	}
	return records, nil
}

func (q *Qdrant) Search(ctx context.Context, query Query) ([]Match, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         query.Dense,
		Limit:          uint64(searchLimit(query)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}

	var conditions []*qdrant.Condition
	if query.Scope != "" {
		conditions = append(conditions, qdrant.NewMatch("scope", query.Scope))
	}
	if query.ParentURI != "" {
		conditions = append(conditions, qdrant.NewMatch("parent_uri", query.ParentURI))
	}
	if len(conditions) > 0 {
		searchRequest.Filter = &qdrant.Filter{Must: conditions}
	}

	result, err := q.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	matches := make([]Match, 0, len(result.Result))
	for _, p := range result.Result {
		r := recordFromPayload(p.Payload, denseOf(p.Vectors))
		m := Match{Record: r, Score: float64(p.Score)}
		if len(query.Sparse) > 0 {
			// Blend the sparse score client-side; qdrant only ranked dense.
			sparse := sparseSimilarity(query.Sparse, r.Sparse)
			m.Score = (1-q.sparseWeight)*float64(p.Score) + q.sparseWeight*sparse
		}
		matches = append(matches, m)
	}
	sortMatches(matches)
	if query.TopK > 0 && len(matches) > query.TopK {
		matches = matches[:query.TopK]
	}
	return matches, nil
}

// searchLimit over-fetches when a sparse query will reorder results.
func searchLimit(q Query) int {
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	if len(q.Sparse) > 0 {
		return topK * 4
	}
	return topK
}

func (q *Qdrant) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	records, err := q.scroll(ctx, scopeOf(prefix))
	if err != nil {
		return nil, err
	}
	var uris []string
	for _, r := range records {
		if prefix == "" || ovuri.HasPrefixString(r.URI, prefix) {
			uris = append(uris, r.URI)
		}
	}
	sort.Strings(uris)
	return uris, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}
