package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifyToken_MatchesAndMismatches(t *testing.T) {
	key := []byte("supersecretkeysupersecretkey1234")
	token := []byte("a_valid_token_value_of_length_32")
	assert.True(t, verifyToken(key, token, token))
	assert.False(t, verifyToken(key, token, []byte("wrong-token")))
}

func TestAuthGate_LocksAfterFiveFailuresInWindow(t *testing.T) {
	g := &authGate{}
	base := time.Now()
	for i := 0; i < 4; i++ {
		g.recordFailure(base.Add(time.Duration(i) * time.Second))
	}
	assert.False(t, g.locked(base.Add(4*time.Second)))

	g.recordFailure(base.Add(4 * time.Second))
	assert.True(t, g.locked(base.Add(5*time.Second)))
}

func TestAuthGate_UnlocksAfterWindowRolls(t *testing.T) {
	g := &authGate{}
	base := time.Now()
	for i := 0; i < 5; i++ {
		g.recordFailure(base)
	}
	assert.True(t, g.locked(base))
	assert.False(t, g.locked(base.Add(61*time.Second)))
}
