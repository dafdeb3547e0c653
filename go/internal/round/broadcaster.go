package round

import "github.com/rs/zerolog/log"

// Broadcaster delivers events to everyone in the room. Implementations must
// not block the caller; delivery is best effort.
type Broadcaster interface {
	Broadcast(event *Event)
}

// MultiBroadcaster fans an event out to several broadcasters in order.
type MultiBroadcaster []Broadcaster

// Broadcast implements Broadcaster.
func (m MultiBroadcaster) Broadcast(event *Event) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(event)
		}
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(event *Event) {
	log.Debug().Str("event_type", string(event.Type)).Msg("no broadcaster attached, dropping event")
}
