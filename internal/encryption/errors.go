package encryption

import "errors"

// ErrCrypto is the only error returned for a failed decrypt or verify. It
// never says why (wrong key, tamper, malformed input).
var ErrCrypto = errors.New("crypto: operation failed")
