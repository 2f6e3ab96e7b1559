package websocket

import (
	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
)

// relayed maps inbound events pushed to dashboards as-is
var relayed = map[types.EventType]types.UpdateType{
	types.EventEmergencyAlert: types.UpdateEmergencyAlert,
	types.EventQueueUpdated:   types.UpdateQueue,
}

// Relay forwards emergency alerts and queue updates to dashboards of
// hospitalID. It returns a func that removes the listeners.
func (h *Hub) Relay(router *event.Router, hospitalID string) func() {
	detach := make([]func(), 0, len(relayed))
	for et, ut := range relayed {
		ut := ut
		detach = append(detach, router.OnTypes([]types.EventType{et}, func(evt types.Event) error {
			h.Publish(types.ConsoleUpdate{
				Type:       ut,
				HospitalID: hospitalID,
				Timestamp:  evt.ReceivedAt,
				Data:       evt.Payload,
			})
			return nil
		}))
	}
	return func() {
		for _, d := range detach {
			d()
		}
	}
}
