// Package connection implements the client side of the app services RPC protocol.
//
// A Connection sends CBOR-encoded RPCRequest frames over a WebSocket and pairs each
// RPCResponse with its request by id. Frames without an id are notifications; they
// carry the subscription UUID they belong to and are routed to the channel returned
// by LiveNotifications.
//
// Two engines implement Connection: [github.com/takameyer/realm.go/pkg/connection/gorillaws]
// (default) and [github.com/takameyer/realm.go/pkg/connection/gws].
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/takameyer/realm.go/internal/codec"
	"github.com/takameyer/realm.go/pkg/constants"
)

type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Send returns the raw response. The caller decodes Result with GetUnmarshaler,
	// or uses the generic Send helper in this package to do both at once.
	Send(ctx context.Context, method string, params ...any) (*RPCResponse[cbor.RawMessage], error)
	LiveNotifications(id string) (chan Notification, error)
	CloseLiveNotifications(id string) error
	GetUnmarshaler() codec.Unmarshaler
	IsClosed() bool
}

// Toolkit holds the state shared by all engines: the codec and the channel
// registries used to route responses and notifications.
type Toolkit struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	ResponseChannels     map[string]chan RPCResponse[cbor.RawMessage]
	ResponseChannelsLock sync.RWMutex

	NotificationChannels     map[string]chan Notification
	NotificationChannelsLock sync.RWMutex
}

// NewToolkit initializes the registries from a Config.
func NewToolkit(p *Config) Toolkit {
	return Toolkit{
		BaseURL:              p.BaseURL,
		Marshaler:            p.Marshaler,
		Unmarshaler:          p.Unmarshaler,
		ResponseChannels:     make(map[string]chan RPCResponse[cbor.RawMessage]),
		NotificationChannels: make(map[string]chan Notification),
	}
}

func (tk *Toolkit) CreateResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], error) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()

	if _, ok := tk.ResponseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	// Buffered so that a response arriving after the caller gave up does not block the reader.
	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	tk.ResponseChannels[id] = ch

	return ch, nil
}

func (tk *Toolkit) GetResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], bool) {
	tk.ResponseChannelsLock.RLock()
	defer tk.ResponseChannelsLock.RUnlock()
	ch, ok := tk.ResponseChannels[id]
	return ch, ok
}

func (tk *Toolkit) RemoveResponseChannel(id string) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()
	delete(tk.ResponseChannels, id)
}

// notificationBufferLength keeps bursts of remote changes from blocking the read loop.
const notificationBufferLength = 64

func (tk *Toolkit) LiveNotifications(id string) (chan Notification, error) {
	tk.NotificationChannelsLock.Lock()
	defer tk.NotificationChannelsLock.Unlock()

	if _, ok := tk.NotificationChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	ch := make(chan Notification, notificationBufferLength)
	tk.NotificationChannels[id] = ch

	return ch, nil
}

func (tk *Toolkit) GetNotificationChannel(id string) (chan Notification, bool) {
	tk.NotificationChannelsLock.RLock()
	defer tk.NotificationChannelsLock.RUnlock()
	ch, ok := tk.NotificationChannels[id]
	return ch, ok
}

func (tk *Toolkit) CloseLiveNotifications(id string) error {
	tk.NotificationChannelsLock.Lock()
	defer tk.NotificationChannelsLock.Unlock()

	ch, ok := tk.NotificationChannels[id]
	if !ok {
		return fmt.Errorf("no notification channel for %s", id)
	}
	delete(tk.NotificationChannels, id)
	close(ch)
	return nil
}

// CloseAllNotifications closes every notification channel. Engines call it when
// the underlying socket goes away so that consumers observe the end of the stream.
func (tk *Toolkit) CloseAllNotifications() {
	tk.NotificationChannelsLock.Lock()
	defer tk.NotificationChannelsLock.Unlock()

	for id, ch := range tk.NotificationChannels {
		close(ch)
		delete(tk.NotificationChannels, id)
	}
}

// DispatchNotification delivers n to its subscription channel while holding the
// read lock, so that CloseLiveNotifications cannot close the channel mid-send.
// It returns false when nobody listens for n.ID.
func (tk *Toolkit) DispatchNotification(ctx context.Context, n Notification) bool {
	if n.ID == nil {
		return false
	}

	tk.NotificationChannelsLock.RLock()
	defer tk.NotificationChannelsLock.RUnlock()

	ch, ok := tk.NotificationChannels[n.ID.String()]
	if !ok {
		return false
	}

	select {
	case ch <- n:
	case <-ctx.Done():
	}
	return true
}

func (tk *Toolkit) PreConnectionChecks() error {
	if tk.BaseURL == "" {
		return constants.ErrNoBaseURL
	}

	if tk.Marshaler == nil {
		return constants.ErrNoMarshaler
	}

	if tk.Unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}

	return nil
}

func (tk *Toolkit) GetUnmarshaler() codec.Unmarshaler {
	return tk.Unmarshaler
}
