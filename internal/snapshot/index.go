package snapshot

import "time"

// IndexEntry is one snapshot's metadata record in the index.
type IndexEntry struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ConfigPath string    `json:"config_path"`
	BuildCount int       `json:"build_count"`
	BindCount  int       `json:"bind_count"`
	Tags       []string  `json:"tags"`
}

// Index is the ordered sequence of every snapshot ever written, oldest
// first.
type Index struct {
	Entries []IndexEntry `json:"entries"`
}

func (idx *Index) find(id string) (int, bool) {
	for i, e := range idx.Entries {
		if e.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (idx *Index) append(entry IndexEntry) {
	idx.Entries = append(idx.Entries, entry)
}

func (idx *Index) remove(id string) bool {
	i, ok := idx.find(id)
	if !ok {
		return false
	}
	idx.Entries = append(idx.Entries[:i], idx.Entries[i+1:]...)
	return true
}
