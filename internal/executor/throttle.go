package executor

import (
	"sync"

	"github.com/shaharwiener/mcp-sql-server/internal/sqlerr"
)

// Throttler caps concurrent executions per environment and per user. The
// lock is held only for the counter transitions, never across I/O.
type Throttler struct {
	maxTotal   int
	maxPerUser int

	mu     sync.Mutex
	active map[string]map[string]int
}

// NewThrottler builds the shared throttle ledger.
func NewThrottler(maxTotal, maxPerUser int) *Throttler {
	return &Throttler{
		maxTotal:   maxTotal,
		maxPerUser: maxPerUser,
		active:     map[string]map[string]int{},
	}
}

// Acquire claims a slot for (env, user). There is no queueing: a saturated
// ledger fails immediately so the caller can surface a retry hint. The
// returned release function is idempotent and must run on every exit path.
func (t *Throttler) Acquire(env, user string) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.active[env]
	if !ok {
		users = map[string]int{}
		t.active[env] = users
	}

	total := 0
	for _, n := range users {
		total += n
	}
	if total >= t.maxTotal {
		return nil, sqlerr.New(sqlerr.TooManyConcurrent,
			"too many concurrent queries on %s environment (%d/%d), please try again later",
			env, total, t.maxTotal)
	}
	if users[user] >= t.maxPerUser {
		return nil, sqlerr.New(sqlerr.TooManyConcurrent,
			"too many concurrent queries for user %q (%d/%d), please try again later",
			user, users[user], t.maxPerUser)
	}

	users[user]++

	var once sync.Once
	release := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if u, ok := t.active[env]; ok {
				u[user]--
				if u[user] <= 0 {
					delete(u, user)
				}
			}
		})
	}
	return release, nil
}

// ActiveCount returns the total active executions for env.
func (t *Throttler) ActiveCount(env string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, n := range t.active[env] {
		total += n
	}
	return total
}

// UserActiveCount returns the active executions for one user in env.
func (t *Throttler) UserActiveCount(env, user string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[env][user]
}
