// Package stream provides an in-process event broadcaster with bounded
// replay history and its server-sent events HTTP surface.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Channel names. Admin receives every event, public only events for
// publicly visible incidents.
const (
	ChannelAdmin  = "admin"
	ChannelPublic = "public"
)

// DefaultHistoryLimit bounds the replay buffer kept per channel.
const DefaultHistoryLimit = 500

// subscriberSlack is extra buffer beyond the replay history so a fresh
// subscriber can absorb a burst while draining.
const subscriberSlack = 64

var ErrUnknownChannel = errors.New("unknown stream channel")

// Event is a single broadcast message. Data is the pre-marshaled JSON
// payload written verbatim to the wire.
type Event struct {
	ID   uint64
	Type string
	Data []byte
}

type subscriber struct {
	ch chan Event
}

type channelState struct {
	mu      sync.Mutex
	nextID  uint64
	history []Event
	subs    map[*subscriber]struct{}
}

// Broadcaster fans events out to any number of subscribers per channel.
// Event ids are monotonically increasing within a channel and the last
// historyLimit events are retained for reconnect replay. Delivery is
// best effort: a subscriber that cannot keep up has events dropped
// rather than blocking the publisher. Drops are visible to the client as
// a skip in the id sequence; reconnecting with Last-Event-ID replays the
// gap from history.
type Broadcaster struct {
	channels     map[string]*channelState
	historyLimit int
}

func NewBroadcaster(historyLimit int) *Broadcaster {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Broadcaster{
		channels: map[string]*channelState{
			ChannelAdmin:  {subs: make(map[*subscriber]struct{})},
			ChannelPublic: {subs: make(map[*subscriber]struct{})},
		},
		historyLimit: historyLimit,
	}
}

// Publish marshals payload and delivers it to every subscriber of the
// channel. The event is appended to the replay history first, so a
// concurrent Subscribe either replays it or receives it live, never
// neither.
func (b *Broadcaster) Publish(channel, eventType string, payload any) error {
	state, ok := b.channels[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.nextID++
	event := Event{ID: state.nextID, Type: eventType, Data: data}

	state.history = append(state.history, event)
	if len(state.history) > b.historyLimit {
		state.history = state.history[len(state.history)-b.historyLimit:]
	}

	for sub := range state.subs {
		select {
		case sub.ch <- event:
		default:
			eventsDropped.WithLabelValues(channel).Inc()
		}
	}
	eventsPublished.WithLabelValues(channel, eventType).Inc()

	return nil
}

// Subscribe registers a new subscriber on the channel. Events already in
// history with an id greater than lastSeenID are queued for immediate
// delivery. The returned cancel function must be called exactly once;
// after it returns the event channel is closed.
func (b *Broadcaster) Subscribe(channel string, lastSeenID uint64) (<-chan Event, func(), error) {
	state, ok := b.channels[channel]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	sub := &subscriber{ch: make(chan Event, b.historyLimit+subscriberSlack)}

	state.mu.Lock()
	for _, event := range state.history {
		if event.ID > lastSeenID {
			sub.ch <- event
		}
	}
	state.subs[sub] = struct{}{}
	state.mu.Unlock()

	subscribersActive.WithLabelValues(channel).Inc()

	cancel := func() {
		state.mu.Lock()
		delete(state.subs, sub)
		close(sub.ch)
		state.mu.Unlock()
		subscribersActive.WithLabelValues(channel).Dec()
	}
	return sub.ch, cancel, nil
}

// SubscriberCount reports the current number of subscribers on a channel.
func (b *Broadcaster) SubscriberCount(channel string) int {
	state, ok := b.channels[channel]
	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.subs)
}
