package search

import "strings"

// SubIndex describes an installed sub-index.
type SubIndex struct {
	Index   string
	OwnerID string
	Prefix  string
}

// Partitions is the set of indexes holding a scope's documents.
type Partitions struct {
	Primary string
	Sub     []SubIndex
}

// Names returns the primary index followed by every sub-index.
func (p Partitions) Names() []string {
	out := make([]string, 0, len(p.Sub)+1)
	out = append(out, p.Primary)
	for _, s := range p.Sub {
		out = append(out, s.Index)
	}
	return out
}

// ForIDs returns the primary index and every sub-index whose prefix matches
// at least one of ids.
func (p Partitions) ForIDs(ids []string) []string {
	out := []string{p.Primary}
	for _, s := range p.Sub {
		if s.Prefix == "" {
			continue
		}
		for _, id := range ids {
			if strings.HasPrefix(id, s.Prefix) {
				out = append(out, s.Index)
				break
			}
		}
	}
	return out
}

// Route returns the index owning id: the sub-index with the longest matching
// prefix, or the primary index.
func (p Partitions) Route(id string) string {
	best, bestLen := p.Primary, 0
	for _, s := range p.Sub {
		if s.Prefix != "" && len(s.Prefix) > bestLen && strings.HasPrefix(id, s.Prefix) {
			best, bestLen = s.Index, len(s.Prefix)
		}
	}
	return best
}
