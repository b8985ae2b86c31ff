package keys

import "crypto/subtle"

// zero overwrites b with zeros in a constant-time friendly way.
func zero(b []byte) {
	if len(b) == 0 {
		return
	}
	blank := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, blank)
}
