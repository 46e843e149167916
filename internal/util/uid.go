package util

import (
	"fmt"
	"hash/fnv"
)

// uidRoot is the UUID-derived root (2.25) allowed for UIDs without a registered org root.
const uidRoot = "2.25."

// DeterministicUID derives a DICOM UID from key. The same key always yields
// the same UID, so regenerated phantoms keep their study/series identity.
func DeterministicUID(key string) string {
	h := fnv.New128a()
	_, _ = h.Write([]byte(key)) // hash.Write never returns an error
	sum := h.Sum(nil)

	// Two 64-bit halves keep the decimal form well under the 64-char UID limit.
	var hi, lo uint64
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(sum[i])
		lo = lo<<8 | uint64(sum[i+8])
	}
	return fmt.Sprintf("%s%d%d", uidRoot, hi>>1, lo>>1)
}
