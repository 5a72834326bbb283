package fakeapp

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/launchdarkly/eventsource"

	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/models"
)

// Event names on a watch stream.
const (
	// WatchOpenEvent is the first event of every stream. Changes committed after
	// a client received it are guaranteed to reach that client.
	WatchOpenEvent = "open"
	// WatchChangeEvent carries a ChangeEvent.
	WatchChangeEvent = "change"
)

// ChangeEvent is the JSON payload of a change event.
type ChangeEvent struct {
	OperationType string          `json:"operationType"`
	Namespace     rpc.Namespace   `json:"ns"`
	DocumentKey   models.Document `json:"documentKey"`
	FullDocument  models.Document `json:"fullDocument,omitempty"`
}

type watchEvent struct {
	id   string
	name string
	data []byte
}

func (e watchEvent) Id() string    { return e.id }
func (e watchEvent) Event() string { return e.name }
func (e watchEvent) Data() string  { return string(e.data) }

// openRepository replays a single open event to every new stream.
type openRepository struct{}

func (openRepository) Replay(channel, id string) chan eventsource.Event {
	out := make(chan eventsource.Event, 1)
	out <- watchEvent{name: WatchOpenEvent, data: []byte("{}")}
	close(out)
	return out
}

func (s *Server) watchChannel(database, collection string) string {
	channel := rpc.Namespace{Database: database, Collection: collection}.String()
	s.events.Register(channel, openRepository{})
	return channel
}

func (s *Server) publishWatch(c change) {
	ev := ChangeEvent{
		OperationType: c.operationType(),
		Namespace:     c.ns,
		DocumentKey:   models.Document{"_id": c.id},
		FullDocument:  c.after,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to encode change event", "error", err)
		return
	}

	s.events.Publish([]string{c.ns.String()}, watchEvent{
		id:   strconv.FormatUint(s.data.Version(), 10),
		name: WatchChangeEvent,
		data: data,
	})
}
