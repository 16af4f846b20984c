package executor

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// FiringLedger remembers which trigger firings already reached the mail
// step so a redelivered request does not send the report twice.
type FiringLedger struct {
	claims *cache.Cache
}

func NewFiringLedger(ttl time.Duration) *FiringLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FiringLedger{
		claims: cache.New(ttl, ttl/2),
	}
}

// Claim reports whether firingID was not claimed before. It is atomic
// across concurrent workers.
func (l *FiringLedger) Claim(firingID string) bool {
	return l.claims.Add(firingID, time.Now(), cache.DefaultExpiration) == nil
}

func (l *FiringLedger) Release(firingID string) {
	l.claims.Delete(firingID)
}

func (l *FiringLedger) Len() int {
	return l.claims.ItemCount()
}
