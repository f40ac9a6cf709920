package coordinator

import (
	"time"

	"github.com/dgellow/auth-front/internal/provider"
)

// IsNewUser reports whether the account was created within threshold of
// now. A missing or unparseable creation timestamp classifies as a
// returning user: the return URL is the less surprising destination when
// the account's age is unknown.
func IsNewUser(user provider.User, threshold time.Duration, now time.Time) bool {
	if user.CreatedAt == "" {
		return false
	}

	createdAt, err := time.Parse(time.RFC3339, user.CreatedAt)
	if err != nil {
		return false
	}

	return now.Sub(createdAt) < threshold
}
