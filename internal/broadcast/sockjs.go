package broadcast

import (
	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// SessionHandler adapts the hub to a sockjs endpoint. Displays connect,
// optionally narrow their subscription to one unit, and receive ticket
// events until they hang up.
func SessionHandler(h *Hub) func(sockjs.Session) {
	return func(session sockjs.Session) {
		client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			sub, ok := ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if sub.Action == "unsubscribe" {
				h.UpdateSubscription(client, Subscription{})
				continue
			}
			h.UpdateSubscription(client, Subscription{UnitID: sub.UnitID})
		}
	}
}
