package encryption

// Zero overwrites b in place. Call it on key material and decrypted secrets
// once they are no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
