package pipeline

import "sync"

// DedupeSet is the run-wide set of claimed business identifiers. It grows
// monotonically for the lifetime of one run; a new run gets a new set.
type DedupeSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupeSet() *DedupeSet {
	return &DedupeSet{seen: make(map[string]struct{})}
}

// Claim marks cid as seen and reports whether this caller won it. The
// check-and-insert is atomic: two tasks racing on the same cid cannot both
// get true. Empty cids are never claimed.
func (d *DedupeSet) Claim(cid string) bool {
	if cid == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[cid]; dup {
		return false
	}
	d.seen[cid] = struct{}{}
	return true
}

func (d *DedupeSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
