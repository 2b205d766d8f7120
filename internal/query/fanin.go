// Package query implements the client-side read fan-in: the store only
// supports single-equality scans, so conjunctive filters run one (or a few)
// server-side scans that retrieve a superset of the answer, then apply the
// full predicate conjunction, sort, and page window in memory.
//
// Memory and latency are therefore proportional to the scanned cardinality
// (in practice the tenant scope), not the filtered result size. That is an
// explicit design assumption: multi-tenant isolation bounds the data volume
// per scan, and callers cap result cardinality through Page.Limit.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/traq/internal/storage"
)

// Op is a predicate operator.
type Op string

// Supported predicate operators.
const (
	OpEqual    Op = "eq"
	OpNotEqual Op = "neq"
	OpContains Op = "contains"
)

// Scan is one server-side equality scan. Multiple scans union their results
// before deduplication, covering fallback scope fields for records missing
// the primary scope.
type Scan struct {
	Field string
	Value any
}

// Predicate is one in-memory filter over a top-level document field.
// OpContains matches array fields containing the value.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Sort orders results by a top-level document field.
type Sort struct {
	Field      string
	Descending bool
}

// Page is the result window applied after sorting.
type Page struct {
	Offset int
	Limit  int
}

// Input is one fan-in query.
type Input struct {
	Collection string
	Scans      []Scan
	Predicates []Predicate
	Sort       []Sort
	Page       Page
}

// Reader executes fan-in queries against a storage gateway.
type Reader struct {
	gw storage.Gateway
}

// NewReader constructs a reader over the given gateway.
func NewReader(gw storage.Gateway) *Reader {
	return &Reader{gw: gw}
}

// Fetch runs every scan, unions and deduplicates the results by document ID,
// then filters, sorts, and pages in memory. A document matching any scan is
// retained once; predicates are a conjunction over the merged set.
func (r *Reader) Fetch(ctx context.Context, in Input) ([]storage.Document, error) {
	if len(in.Scans) == 0 {
		return nil, fmt.Errorf("fan-in query requires at least one scan")
	}

	merged := map[string]storage.Document{}
	for _, scan := range in.Scans {
		docs, err := r.gw.Scan(ctx, in.Collection, scan.Field, scan.Value)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			merged[doc.Ref.ID] = doc
		}
	}

	out := make([]storage.Document, 0, len(merged))
	for _, doc := range merged {
		if MatchAll(doc, in.Predicates) {
			out = append(out, doc)
		}
	}

	sortDocuments(out, in.Sort)
	return applyPage(out, in.Page), nil
}

// MatchAll reports whether the document satisfies every predicate.
func MatchAll(doc storage.Document, predicates []Predicate) bool {
	for _, p := range predicates {
		if !match(doc, p) {
			return false
		}
	}
	return true
}

// match evaluates one predicate.
func match(doc storage.Document, p Predicate) bool {
	value := canonical(doc.Data[p.Field])
	want := canonical(p.Value)
	switch p.Op {
	case OpEqual:
		return value == want
	case OpNotEqual:
		return value != want
	case OpContains:
		items, ok := doc.Data[p.Field].([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if canonical(item) == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// canonical folds JSON scalar representations so values compare the same
// regardless of decode path. Numbers become float64, everything non-scalar
// becomes its string rendering.
func canonical(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		return x
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// sortDocuments sorts by the given keys, tie-breaking on document ID so the
// order is total and stable across runs.
func sortDocuments(docs []storage.Document, keys []Sort) {
	sort.Slice(docs, func(i, j int) bool {
		for _, key := range keys {
			c := compareValues(docs[i].Data[key.Field], docs[j].Data[key.Field])
			if c == 0 {
				continue
			}
			if key.Descending {
				return c > 0
			}
			return c < 0
		}
		return docs[i].Ref.ID < docs[j].Ref.ID
	})
}

// compareValues orders canonical scalars: nil first, then booleans, numbers,
// and strings.
func compareValues(a, b any) int {
	av, bv := canonical(a), canonical(b)
	ar, br := typeRank(av), typeRank(bv)
	if ar != br {
		return ar - br
	}
	switch x := av.(type) {
	case nil:
		return 0
	case bool:
		y := bv.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := bv.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		return compareStrings(x, bv.(string))
	default:
		return 0
	}
}

// compareStrings orders two strings, comparing timestamps as instants when
// both sides parse as RFC 3339. Lexicographic order misplaces fractional
// seconds ("…:05.5Z" sorts before "…:05Z"), so timestamp fields need the
// parsed comparison.
func compareStrings(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}

// typeRank handles type rank.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// applyPage applies the offset/limit window. Limit <= 0 means no limit.
func applyPage(docs []storage.Document, page Page) []storage.Document {
	if page.Offset > 0 {
		if page.Offset >= len(docs) {
			return []storage.Document{}
		}
		docs = docs[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(docs) {
		docs = docs[:page.Limit]
	}
	return docs
}
