package tutor

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint hashes the renderable identity of a content item: type, title
// and data, with map keys in stable order. Two regenerations of the same
// payload collide even though their ids differ, which is what the duplicate
// safety net needs.
func Fingerprint(c *InteractiveContent) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(c.Type))
	h.Write([]byte{0})
	h.Write([]byte(c.Title))
	h.Write([]byte{0})

	keys := make([]string, 0, len(c.Data))
	for k := range c.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		v, _ := json.Marshal(c.Data[k])
		h.Write(v)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// dupeGuard remembers recent fingerprints per subject so one turn never
// emits the same payload twice and consecutive turns do not repeat content.
type dupeGuard struct {
	seen map[string][]string // subjectID -> recent fingerprints
	cap  int
}

func newDupeGuard(capacity int) *dupeGuard {
	if capacity <= 0 {
		capacity = 8
	}
	return &dupeGuard{seen: make(map[string][]string), cap: capacity}
}

// Admit records the content and reports whether it is new. Duplicates are
// not admitted.
func (g *dupeGuard) Admit(subjectID string, c *InteractiveContent) bool {
	fp := Fingerprint(c)
	ring := g.seen[subjectID]
	for _, s := range ring {
		if s == fp {
			return false
		}
	}
	ring = append(ring, fp)
	if len(ring) > g.cap {
		ring = ring[len(ring)-g.cap:]
	}
	g.seen[subjectID] = ring
	return true
}

// Forget drops tracked fingerprints for a subject.
func (g *dupeGuard) Forget(subjectID string) {
	delete(g.seen, subjectID)
}
