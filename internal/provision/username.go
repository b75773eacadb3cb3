package provision

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DefaultUsernameMaxLen bounds generated usernames. Router account names
// accept more, but keeping them short keeps them typeable.
const DefaultUsernameMaxLen = 20

// usernameSuffixAttempts is one candidate per calendar day offset.
const usernameSuffixAttempts = 31

// GenerateUsername derives a deterministic username from the client's name
// and numeric id: the sanitized lowercase name followed by the zero-padded
// id, truncated to maxLen.
func GenerateUsername(clientName string, clientID int64, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultUsernameMaxLen
	}
	suffix := fmt.Sprintf("%04d", clientID)
	base := sanitizeName(clientName)
	if base == "" {
		base = "client"
	}
	if len(base)+len(suffix) > maxLen {
		cut := maxLen - len(suffix)
		if cut < 1 {
			cut = 1
		}
		base = base[:cut]
	}
	return base + suffix
}

// dateSuffixCandidate appends a month-day suffix for the given day offset,
// trimming the base so the result stays within maxLen.
func dateSuffixCandidate(base string, now time.Time, dayOffset, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultUsernameMaxLen
	}
	suffix := now.AddDate(0, 0, dayOffset).Format("0102")
	if len(base)+len(suffix) > maxLen {
		cut := maxLen - len(suffix)
		if cut < 1 {
			cut = 1
		}
		base = base[:cut]
	}
	return base + suffix
}

// sanitizeName lowercases and strips everything but letters and digits.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) && r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
