package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"postscript/internal/observability"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultLimit = 50
	lockStripes  = 64
	versionPref  = "version/"
	liveState    = "live"
	deadState    = "dead"
)

// BleveIndex is an Index backed by an embedded Bleve index. Each document has
// a version record in Bleve's internal key space; the record and the
// document are written in one batch.
type BleveIndex struct {
	idx   bleve.Index
	locks [lockStripes]sync.Mutex
}

// OpenBleve opens the index at path, creating it when missing. An empty path
// gives an in-memory index.
func OpenBleve(path string) (*BleveIndex, error) {
	var (
		idx bleve.Index
		err error
	)
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(commentMapping())
	default:
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, commentMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open search index %s: %w", IndexName, err)
	}
	return &BleveIndex{idx: idx}, nil
}

func commentMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(FieldMessage, text)
	doc.AddFieldMappingsAt(FieldUserName, text)
	doc.AddFieldMappingsAt(FieldPostTitle, text)
	doc.AddFieldMappingsAt(FieldStatus, keyword)
	doc.AddFieldMappingsAt(FieldRating, numeric)
	doc.AddFieldMappingsAt(FieldUserID, numeric)
	doc.AddFieldMappingsAt(FieldPostID, numeric)
	doc.AddFieldMappingsAt(FieldVersion, numeric)
	doc.AddFieldMappingsAt(FieldCreatedAt, date)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

type versionRecord struct {
	live    bool
	version int64
}

func versionKey(id uint) []byte {
	return []byte(versionPref + strconv.FormatUint(uint64(id), 10))
}

func (r versionRecord) encode() []byte {
	state := deadState
	if r.live {
		state = liveState
	}
	return []byte(state + ":" + strconv.FormatInt(r.version, 10))
}

func decodeVersion(raw []byte) (versionRecord, bool) {
	state, v, ok := strings.Cut(string(raw), ":")
	if !ok {
		return versionRecord{}, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return versionRecord{}, false
	}
	return versionRecord{live: state == liveState, version: n}, true
}

func (b *BleveIndex) lock(id uint) func() {
	m := &b.locks[id%lockStripes]
	m.Lock()
	return m.Unlock
}

func (b *BleveIndex) record(id uint) (versionRecord, bool, error) {
	raw, err := b.idx.GetInternal(versionKey(id))
	if err != nil {
		return versionRecord{}, false, fmt.Errorf("failed to read version of %d: %w", id, err)
	}
	if raw == nil {
		return versionRecord{}, false, nil
	}
	rec, ok := decodeVersion(raw)
	return rec, ok, nil
}

// Upsert writes doc unless the index already holds a newer live version or a
// tombstone at or after doc.Version.
func (b *BleveIndex) Upsert(ctx context.Context, doc Document) (written bool, err error) {
	if doc.ID == 0 || doc.Version <= 0 {
		return false, fmt.Errorf("%w: id=%d version=%d", ErrMalformedDocument, doc.ID, doc.Version)
	}
	_, span := observability.StartSpan(ctx, "search", "upsert",
		attribute.Int64("comment.id", int64(doc.ID)), attribute.Int64("comment.version", doc.Version))
	defer func() { observability.EndSpan(span, err) }()

	unlock := b.lock(doc.ID)
	defer unlock()

	rec, ok, err := b.record(doc.ID)
	if err != nil {
		return false, err
	}
	if ok {
		if rec.live && rec.version > doc.Version {
			return false, nil
		}
		if !rec.live && rec.version >= doc.Version {
			return false, nil
		}
	}

	if err := b.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Replace writes the loaded document over any live entry for id, including
// one whose version is ahead of the store.
func (b *BleveIndex) Replace(ctx context.Context, id uint, load Loader) (written bool, err error) {
	if id == 0 {
		return false, fmt.Errorf("%w: id=0", ErrMalformedDocument)
	}
	ctx, span := observability.StartSpan(ctx, "search", "replace", attribute.Int64("comment.id", int64(id)))
	defer func() { observability.EndSpan(span, err) }()

	unlock := b.lock(id)
	defer unlock()

	doc, err := load(ctx)
	if errors.Is(err, ErrDocumentGone) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if doc.ID != id || doc.Version <= 0 {
		return false, fmt.Errorf("%w: id=%d version=%d", ErrMalformedDocument, doc.ID, doc.Version)
	}

	rec, ok, err := b.record(id)
	if err != nil {
		return false, err
	}
	if ok && !rec.live && rec.version > doc.Version {
		return false, nil
	}
	if err := b.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (b *BleveIndex) write(doc Document) error {
	batch := b.idx.NewBatch()
	if err := batch.Index(docID(doc.ID), doc.fields()); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	batch.SetInternal(versionKey(doc.ID), versionRecord{live: true, version: doc.Version}.encode())
	if err := b.idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to index comment %d: %w", doc.ID, err)
	}
	return nil
}

// Delete removes the document and leaves a tombstone at version. It is a
// no-op when the index holds a newer live version.
func (b *BleveIndex) Delete(ctx context.Context, id uint, version int64) (changed bool, err error) {
	if id == 0 {
		return false, fmt.Errorf("%w: id=0", ErrMalformedDocument)
	}
	_, span := observability.StartSpan(ctx, "search", "delete",
		attribute.Int64("comment.id", int64(id)), attribute.Int64("comment.version", version))
	defer func() { observability.EndSpan(span, err) }()

	unlock := b.lock(id)
	defer unlock()

	rec, ok, err := b.record(id)
	if err != nil {
		return false, err
	}
	tomb := versionRecord{version: version}
	if ok {
		if rec.live && rec.version > version {
			return false, nil
		}
		if !rec.live && rec.version >= version {
			return false, nil
		}
		if rec.version > tomb.version {
			tomb.version = rec.version
		}
	}

	batch := b.idx.NewBatch()
	batch.Delete(docID(id))
	batch.SetInternal(versionKey(id), tomb.encode())
	if err := b.idx.Batch(batch); err != nil {
		return false, fmt.Errorf("failed to delete comment %d from index: %w", id, err)
	}
	return ok && rec.live, nil
}

// Query returns matching comment ids, best match first. A document scores as
// its best single field times that field's boost, so matching in several
// weak fields never outranks one strong field. Each field is searched on its
// own because a combined disjunction would sum the field scores.
func (b *BleveIndex) Query(ctx context.Context, q Query) (ids []uint, err error) {
	ctx, span := observability.StartSpan(ctx, "search", "query", attribute.String("search.text", q.Text))
	defer func() { observability.EndSpan(span, err) }()

	fields := q.Fields
	if len(fields) == 0 {
		fields = CommentFields
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	scores := make(map[uint]float64)
	for _, f := range fields {
		mq := bleve.NewMatchQuery(q.Text)
		mq.SetField(f.Name)
		if q.Conjunctive {
			mq.SetOperator(query.MatchQueryOperatorAnd)
		}
		boost := f.Boost
		if boost <= 0 {
			boost = 1
		}

		res, err := b.idx.SearchInContext(ctx, bleve.NewSearchRequestOptions(mq, limit, 0, false))
		if err != nil {
			return nil, fmt.Errorf("search on %s.%s failed: %w", IndexName, f.Name, err)
		}
		for _, hit := range res.Hits {
			n, err := strconv.ParseUint(hit.ID, 10, 64)
			if err != nil {
				continue
			}
			id := uint(n)
			if best, seen := scores[id]; !seen || hit.Score*boost > best {
				scores[id] = hit.Score * boost
			}
		}
	}

	ids = make([]uint, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Refresh waits until the index answers reads. Bleve makes a batch
// searchable when Batch returns, so this only bounds a slow or wedged index.
func (b *BleveIndex) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := b.idx.DocCount()
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Count is the number of live documents.
func (b *BleveIndex) Count(_ context.Context) (uint64, error) {
	return b.idx.DocCount()
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	return b.idx.Close()
}

func docID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (d Document) fields() map[string]interface{} {
	m := map[string]interface{}{
		FieldMessage:   d.Message,
		FieldStatus:    d.Status,
		FieldUserID:    d.UserID,
		FieldPostID:    d.PostID,
		FieldCreatedAt: d.CreatedAt,
		FieldVersion:   d.Version,
	}
	if d.Rating != nil {
		m[FieldRating] = *d.Rating
	}
	if d.UserName != nil {
		m[FieldUserName] = *d.UserName
	}
	if d.PostTitle != nil {
		m[FieldPostTitle] = *d.PostTitle
	}
	return m
}
