package notify

import (
	"fmt"
	"hash/fnv"
)

// dedupHash derives a stable dedup key from the parts identifying a logical
// event.
func dedupHash(parts ...string) string {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{'|'})
		}
		_, _ = h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum64())
}
