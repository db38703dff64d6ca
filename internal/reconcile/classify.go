// Package reconcile compares the object store with the search index.
//
// The orphan reconciler removes index documents whose object no longer
// exists. The staleness reconciler schedules repairs for objects that are
// missing from the index, indexed at an older commit sequence, or indexed
// under the wrong parent.
package reconcile

import (
	"github.com/dray-io/vacuum/internal/search"
	"github.com/dray-io/vacuum/internal/store"
)

// Classification is the outcome of comparing a record with its document.
type Classification int

const (
	Consistent Classification = iota
	Missing
	OutOfDate
	Misplaced
)

func (c Classification) String() string {
	switch c {
	case Consistent:
		return "consistent"
	case Missing:
		return "missing"
	case OutOfDate:
		return "out_of_date"
	case Misplaced:
		return "misplaced"
	default:
		return "unknown"
	}
}

// Classify compares rec with the document found for it in the index.
//
// A document is out of date iff its version is known and lower than the
// record's commit sequence. A document with a current or unknown version is
// misplaced when its parent differs from the record's.
func Classify(rec store.Record, doc search.Document, found bool) Classification {
	if !found {
		return Missing
	}
	if doc.Version != search.UnknownVersion && doc.Version < rec.CommitSeq {
		return OutOfDate
	}
	if doc.ParentID != rec.ParentID {
		return Misplaced
	}
	return Consistent
}

// latestByID keeps one document per id. When an id is indexed in several
// partitions the highest version wins.
func latestByID(docs []search.Document) map[string]search.Document {
	out := make(map[string]search.Document, len(docs))
	for _, d := range docs {
		if cur, ok := out[d.ID]; ok && cur.Version >= d.Version {
			continue
		}
		out[d.ID] = d
	}
	return out
}
