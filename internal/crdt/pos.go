package crdt

import "strings"

// posDigits is the base-36 alphabet for fractional position keys.
const posDigits = "0123456789abcdefghijklmnopqrstuvwxyz"

// PosBetween returns a key strictly between a and b, where "" means
// unbounded on that side. Keys produced here never end in the minimum
// digit, so a strictly smaller key always exists for any generated key.
// Concurrent inserts at the same gap produce equal keys; sibling order
// breaks the tie by ItemID.
func PosBetween(a, b string) string {
	var out []byte
	for i := 0; ; i++ {
		lo := 0
		if i < len(a) {
			lo = strings.IndexByte(posDigits, a[i])
		}
		hi := len(posDigits)
		if b != "" && i < len(b) {
			hi = strings.IndexByte(posDigits, b[i])
		}
		if hi-lo > 1 {
			out = append(out, posDigits[(lo+hi)/2])
			return string(out)
		}
		// Gap too small at this digit: copy the lower digit and descend.
		out = append(out, posDigits[lo])
	}
}
