package signaling

import (
	"sync"
	"time"

	"github.com/serenada/signaling/internal/v1/types"
)

// maxRoomSize is the participant cap. Calls are strictly one-to-one.
const maxRoomSize = 2

type participant struct {
	cid      types.ClientID
	joinedAt time.Time
}

// Room tracks the participants of one call. The hub creates rooms on first
// join and deletes them when the last participant leaves or the host ends the
// call. Lock order is hub.mu before room.mu before client mutexes; methods
// with the Locked suffix expect mu already held.
type Room struct {
	rid          types.RoomID
	mu           sync.Mutex
	participants map[*Client]*participant
	hostCID      types.ClientID
}

func newRoom(rid types.RoomID) *Room {
	return &Room{
		rid:          rid,
		participants: make(map[*Client]*participant),
	}
}

// findByCIDLocked returns the client currently holding cid, or nil.
func (r *Room) findByCIDLocked(cid types.ClientID) *Client {
	for client, p := range r.participants {
		if p.cid == cid {
			return client
		}
	}
	return nil
}

// wireParticipantsLocked renders the participant list for an event payload.
// joinedAt is included in `joined` replies and omitted from room_state.
func (r *Room) wireParticipantsLocked(withJoinedAt bool) []types.Participant {
	out := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		wp := types.Participant{CID: p.cid}
		if withJoinedAt {
			wp.JoinedAt = p.joinedAt.UnixMilli()
		}
		out = append(out, wp)
	}
	return out
}

// clientsLocked snapshots the member sessions so callers can send to them
// after releasing the room lock.
func (r *Room) clientsLocked() []*Client {
	out := make([]*Client, 0, len(r.participants))
	for client := range r.participants {
		out = append(out, client)
	}
	return out
}
