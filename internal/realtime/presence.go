package realtime

import (
	"sync"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
)

// PresenceHub tracks which counsellors currently hold at least one live
// connection. Counts are per identity, so a counsellor with two tabs open
// stays online until the last one disconnects.
type PresenceHub struct {
	mu     sync.Mutex
	online map[string]int // counsellor id -> live connection count
}

func NewPresenceHub() *PresenceHub {
	return &PresenceHub{online: make(map[string]int)}
}

// MarkOnline records a new connection for the identity. It reports true only
// on the offline-to-online edge, and only for counsellors; user connections
// never produce presence transitions.
func (p *PresenceHub) MarkOnline(id model.Identity) bool {
	if id.Role != model.RoleCounsellor {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.online[id.ID]++
	return p.online[id.ID] == 1
}

// MarkOffline records a closed connection, reporting true on the
// online-to-offline edge.
func (p *PresenceHub) MarkOffline(id model.Identity) bool {
	if id.Role != model.RoleCounsellor {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.online[id.ID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.online, id.ID)
		return true
	}
	p.online[id.ID] = n - 1
	return false
}

// IsOnline reports whether the counsellor has any live connection.
func (p *PresenceHub) IsOnline(counsellorID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[counsellorID] > 0
}

// OnlineSet returns the ids of all online counsellors.
func (p *PresenceHub) OnlineSet() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	return ids
}
