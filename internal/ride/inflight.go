package ride

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// actionGuard hands out one token per logical action (accept, reject,
// complete) so a rapid duplicate tap cannot start a second request while
// the first is in flight. Tokens are released on completion; a cool-down
// expiry is the backstop against a token leaked by an unhandled failure
// path, so the guard never wedges an action forever.
type actionGuard struct {
	mu       sync.Mutex
	cooldown time.Duration
	tokens   map[string]guardToken
}

type guardToken struct {
	id string
	at time.Time
}

func newActionGuard(cooldown time.Duration) *actionGuard {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &actionGuard{cooldown: cooldown, tokens: make(map[string]guardToken)}
}

// begin claims the action, returning its release token. ok is false while
// a live token exists for the same action.
func (g *actionGuard) begin(action string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, exists := g.tokens[action]; exists && time.Since(t.at) < g.cooldown {
		return "", false
	}
	t := guardToken{id: uuid.NewString(), at: time.Now()}
	g.tokens[action] = t
	return t.id, true
}

// end releases the action if the token still owns it.
func (g *actionGuard) end(action, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, exists := g.tokens[action]; exists && t.id == id {
		delete(g.tokens, action)
	}
}
