package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wispkit/wispd/internal/model"
)

// ClassFromTokens infers a pool's class from its router-side name and
// comment. Operators tag pools with conventional tokens; anything
// unrecognized defaults to the active class.
func ClassFromTokens(name, comment string) model.PoolClass {
	text := strings.ToLower(name + " " + comment)
	switch {
	case containsAny(text, "cut", "isolate", "blocked"):
		return model.PoolClassCutService
	case containsAny(text, "suspend", "expired", "grace"):
		return model.PoolClassSuspended
	default:
		return model.PoolClassActive
	}
}

func containsAny(s string, tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// ClientComment renders the router comment linking an account to a client.
func ClientComment(clientID int64) string {
	return fmt.Sprintf("client:%d", clientID)
}

// ClientFromComment extracts the client id a router comment links to, or 0
// when the comment carries no link.
func ClientFromComment(comment string) int64 {
	rest, ok := strings.CutPrefix(strings.TrimSpace(comment), "client:")
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
