package outbox

import (
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/chat"
)

// tempIDs hands out millisecond timestamps as temporary message ids,
// bumping forward so ids stay unique when sends share a millisecond.
type tempIDs struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (g *tempIDs) next() (chat.ID, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return chat.ID(strconv.FormatInt(ms, 10)), now
}
