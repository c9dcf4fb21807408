// Package gateway implements the Session Gateway (§4.7 C7): the WebSocket
// server, auth handshake, per-client rate limiting, and broadcast/drain.
// Its ConnectionManager is adapted from pkg/events/manager.go's
// connection-tracking idiom (connections map guarded by mu, a read loop
// goroutine per socket, sendJSON/sendRaw helpers) — here re-domained from
// Postgres LISTEN/NOTIFY catchup to the §6 auth/task/chat wire protocol.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"sync"
	"time"
)

// authWindow is the rolling window over which auth failures are counted
// (§4.7: "failures tracked per-client with rolling minute window").
const authWindow = time.Minute

// maxAuthFailures is the failure count that locks out further auth
// attempts until the window rolls (§4.7, §8 boundary: "5 failures in 60s").
const maxAuthFailures = 5

// authGate tracks one client's auth failure history.
type authGate struct {
	mu           sync.Mutex
	failures     []time.Time
	authenticated bool
}

// RecordFailure appends a failure timestamp, pruning entries outside the window.
func (g *authGate) recordFailure(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = prune(g.failures, now)
	g.failures = append(g.failures, now)
}

// locked reports whether the client has accumulated >= maxAuthFailures
// failures within the current rolling window.
func (g *authGate) locked(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = prune(g.failures, now)
	return len(g.failures) >= maxAuthFailures
}

func prune(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-authWindow)
	out := failures[:0]
	for _, f := range failures {
		if f.After(cutoff) {
			out = append(out, f)
		}
	}
	return out
}

// verifyToken HMAC-SHA-256s both the configured token and the client's
// candidate under key and compares the two digests in constant time (§4.7:
// "HMAC-SHA-256 each token and compare constant-time"; §7: "never reveal
// token equality" — the boolean result is the only thing ever surfaced to
// the caller, never which byte differed or how).
func verifyToken(key, expectedToken, candidate []byte) bool {
	expectedMAC := hmac.New(sha256.New, key)
	expectedMAC.Write(expectedToken)
	expected := expectedMAC.Sum(nil)

	candidateMAC := hmac.New(sha256.New, key)
	candidateMAC.Write(candidate)
	got := candidateMAC.Sum(nil)

	return hmac.Equal(expected, got)
}
