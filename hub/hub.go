// Package hub relays chat events between websocket clients grouped by
// user id. A user may hold several connections; every delivery goes to
// all of them.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"pawmart/metrics"
	"pawmart/realtime"
)

// Bus fans deliveries out to other relay instances.
type Bus interface {
	Publish(ctx context.Context, userID string, data []byte) error
}

type delivery struct {
	userID string
	client *Client // set for a reply to one connection
	data   []byte
	close  bool // drop client after data
}

type countReq struct {
	userID string
	reply  chan int
}

type Options struct {
	Metrics *metrics.ServerMetrics
	Bus     Bus
	Now     func() time.Time
}

type Hub struct {
	store   MessageStore
	metrics *metrics.ServerMetrics
	bus     Bus
	now     func() time.Time

	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	count      chan countReq
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub(store MessageStore, opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		store:      store,
		metrics:    opts.Metrics,
		bus:        opts.Bus,
		now:        opts.Now,
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 64),
		count:      make(chan countReq),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			if h.clients[c.UserID] == nil {
				h.clients[c.UserID] = make(map[*Client]bool)
			}
			h.clients[c.UserID][c] = true
			h.gauge(1)

		case c := <-h.unregister:
			h.drop(c)

		case d := <-h.deliver:
			if d.client != nil {
				if h.clients[d.client.UserID][d.client] {
					if d.data != nil {
						h.send(d.client, d.data)
					}
					if d.close {
						h.drop(d.client)
					}
				}
				continue
			}
			for c := range h.clients[d.userID] {
				h.send(c, d.data)
			}

		case q := <-h.count:
			q.reply <- len(h.clients[q.userID])

		case <-h.quit:
			for _, conns := range h.clients {
				for c := range conns {
					h.drop(c)
				}
			}
			return
		}
	}
}

func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Printf("hub: send buffer full for %s, dropping connection", c.UserID)
		if h.metrics != nil {
			h.metrics.Dropped.Inc()
		}
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	conns := h.clients[c.UserID]
	if !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.Send)
	h.gauge(-1)
}

func (h *Hub) gauge(delta float64) {
	if h.metrics != nil {
		h.metrics.Connections.Add(delta)
	}
}

// Stop closes every client's send channel and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Register adds c to the hub. It returns false once the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// Connections reports how many live connections userID holds here.
func (h *Hub) Connections(userID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countReq{userID: userID, reply: reply}:
		return <-reply
	case <-h.quit:
		return 0
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Deliver sends event to every connection of userID, here and, through
// the bus, on other instances.
func (h *Hub) Deliver(userID, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", event, err)
		return
	}
	h.DeliverLocal(userID, data)
	if h.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.bus.Publish(ctx, userID, data); err != nil {
			log.Printf("hub: publish to %s: %v", userID, err)
		}
	}
}

// DeliverLocal sends an encoded frame to this instance's connections only.
func (h *Hub) DeliverLocal(userID string, data []byte) {
	select {
	case h.deliver <- delivery{userID: userID, data: data}:
	case <-h.quit:
	}
}

// DeliverTo sends an encoded frame to one connection.
func (h *Hub) DeliverTo(c *Client, data []byte) {
	select {
	case h.deliver <- delivery{client: c, data: data}:
	case <-h.quit:
	}
}

// Kick closes one connection after the frames already queued for it.
func (h *Hub) Kick(c *Client) {
	select {
	case h.deliver <- delivery{client: c, close: true}:
	case <-h.quit:
	}
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(realtime.Envelope{Event: event, Data: data})
}
