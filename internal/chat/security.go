package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller's address, trusting the first hop of
// X-Forwarded-For when the proxy in front of the service sets it.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HashIP keys rate-limit rows by a salted hash so raw client addresses are
// never written to storage.
func HashIP(secret, ip string) string {
	sum := sha256.Sum256([]byte(secret + ":" + ip))
	return hex.EncodeToString(sum[:])
}
