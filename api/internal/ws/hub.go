package ws

import (
	"encoding/json"
	"strings"
	"sync"
)

// ChannelPrefix namespaces live log channels: logs:{deploymentId}.
const ChannelPrefix = "logs:"

// Subscriber abstracts a streaming client. Send must not block.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans payloads out to subscribers by channel name. Delivery is best
// effort: a subscriber that cannot take a payload is dropped, and nothing
// published before a subscription is replayed.
type Hub struct {
	channels map[string]map[Subscriber]struct{}
	joined   map[Subscriber]map[string]struct{}

	subscribe   chan subscription
	unsubscribe chan subscription
	removeAll   chan Subscriber
	broadcast   chan message
	count       chan countRequest
	done        chan struct{}
	closeOnce   sync.Once
}

type message struct {
	channel string
	payload []byte
}

type subscription struct {
	channel string
	client  Subscriber
}

type countRequest struct {
	channel string
	reply   chan int
}

// NewHub creates an initialized Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		channels:    make(map[string]map[Subscriber]struct{}),
		joined:      make(map[Subscriber]map[string]struct{}),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		removeAll:   make(chan Subscriber),
		broadcast:   make(chan message),
		count:       make(chan countRequest),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

// ChannelFor returns the live channel of a deployment.
func ChannelFor(deploymentID string) string {
	return ChannelPrefix + deploymentID
}

// ValidChannel reports whether name is a well-formed live log channel.
func ValidChannel(name string) bool {
	return strings.HasPrefix(name, ChannelPrefix) && len(name) > len(ChannelPrefix)
}

// Frame wraps a log line in the wire shape pushed to subscribers.
func Frame(line string) []byte {
	data, _ := json.Marshal(struct {
		Log string `json:"log"`
	}{Log: line})
	return data
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.joined {
				c.Close()
			}
			return
		case sub := <-h.subscribe:
			h.add(sub)
			if err := sub.client.Send(Frame("Subscribed to " + sub.channel)); err != nil {
				h.drop(sub.client)
			}
		case sub := <-h.unsubscribe:
			h.remove(sub.channel, sub.client)
		case c := <-h.removeAll:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.channels[msg.channel] {
				if err := c.Send(msg.payload); err != nil {
					h.drop(c)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.channels[req.channel])
		}
	}
}

func (h *Hub) add(sub subscription) {
	if _, ok := h.channels[sub.channel]; !ok {
		h.channels[sub.channel] = make(map[Subscriber]struct{})
	}
	h.channels[sub.channel][sub.client] = struct{}{}
	if _, ok := h.joined[sub.client]; !ok {
		h.joined[sub.client] = make(map[string]struct{})
	}
	h.joined[sub.client][sub.channel] = struct{}{}
}

func (h *Hub) remove(channel string, c Subscriber) {
	if clients, ok := h.channels[channel]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	if chans, ok := h.joined[c]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(h.joined, c)
		}
	}
}

// drop removes c from every channel and closes it.
func (h *Hub) drop(c Subscriber) {
	for channel := range h.joined[c] {
		if clients, ok := h.channels[channel]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.joined, c)
	c.Close()
}

// Subscribe joins client to channel and acknowledges it.
func (h *Hub) Subscribe(channel string, client Subscriber) {
	select {
	case h.subscribe <- subscription{channel: channel, client: client}:
	case <-h.done:
	}
}

// Unsubscribe removes client from one channel.
func (h *Hub) Unsubscribe(channel string, client Subscriber) {
	select {
	case h.unsubscribe <- subscription{channel: channel, client: client}:
	case <-h.done:
	}
}

// RemoveAll removes client from every channel it joined.
func (h *Hub) RemoveAll(client Subscriber) {
	select {
	case h.removeAll <- client:
	case <-h.done:
	}
}

// Publish delivers payload to the channel's current subscribers.
func (h *Hub) Publish(channel string, payload []byte) {
	select {
	case h.broadcast <- message{channel: channel, payload: payload}:
	case <-h.done:
	}
}

// Subscribers returns the number of clients joined to channel.
func (h *Hub) Subscribers(channel string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{channel: channel, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
