// Package dedup computes the "without committer identity" content hash
// spec.md §3/§10 uses to recognize that two commits — one freshly
// exported, one already recorded — differ only in committer, so the
// loader and expander can reuse the existing commit id instead of
// synthesizing a redundant duplicate.
package dedup

import (
	"crypto/sha1"
	"sort"

	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/oid"
)

// WithoutCommitterID is the SHA-1 digest over {author, encoding, message,
// file_changes, parents} (spec.md §3) — deliberately SHA-1, not the
// project's usual blake3, since it must land in the same 20-byte id
// space as every other oid.OID the loader and expander compare it
// against.
func WithoutCommitterID(c *fastexport.Commit) oid.OID {
	h := sha1.New()

	if c.Author != nil {
		writeSignature(h, *c.Author)
	}
	h.Write([]byte{0})
	h.Write([]byte(c.Encoding))
	h.Write([]byte{0})
	h.Write(c.Message)
	h.Write([]byte{0})

	parents := c.Parents()
	for _, p := range parents {
		h.Write(p[:])
	}
	h.Write([]byte{0})

	changes := append([]fastexport.FileChange(nil), c.FileChanges...)
	sort.Slice(changes, func(i, j int) bool {
		return string(changes[i].Path) < string(changes[j].Path)
	})
	for _, ch := range changes {
		writeFileChange(h, ch)
	}

	var sum [20]byte
	copy(sum[:], h.Sum(nil))
	id, _ := oid.FromBytes(sum[:])
	return id
}

func writeSignature(h interface{ Write([]byte) (int, error) }, sig fastexport.Signature) {
	h.Write([]byte(sig.Name))
	h.Write([]byte{0})
	h.Write([]byte(sig.Email))
	h.Write([]byte{0})
}

func writeFileChange(h interface{ Write([]byte) (int, error) }, ch fastexport.FileChange) {
	h.Write([]byte{byte(ch.Kind)})
	h.Write([]byte(ch.Mode))
	h.Write([]byte{0})
	h.Write(ch.OID[:])
	h.Write(ch.Path)
	h.Write([]byte{0})
}
