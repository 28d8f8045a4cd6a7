// Copyright 2025 Certen Protocol
//
// HTTPTransport is the production Transport (spec.md §4.5): plain HTTP
// POSTs between committee members, matching the teacher's own habit of
// reaching for net/http rather than a dedicated P2P stack (main.go wires
// its entire API surface the same way, one mux, one *http.Server). Each
// peer runs a Handler that receives a topic's payload and fans it out to
// local Subscribe channels — Broadcast/Send are just the client side of
// the same exchange, fired at every known peer's Endpoint concurrently.
//
// This is not a gossip protocol in the epidemic sense: every committee
// member is assumed directly reachable (the committee is small and
// fixed per epoch), so a flood to the full PeerSet already reaches
// everyone in one hop. Gossip's dedup/TTL cache still matters because a
// Broadcast and a same-payload re-Send can race.

package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
)

const httpTransportPathPrefix = "/pop/transport/"

// HTTPTransport implements Transport over HTTP POST requests between
// peers named in its PeerSet.
type HTTPTransport struct {
	self   PeerID
	peers  *PeerSet
	client *http.Client
	logger *log.Logger

	mu   sync.Mutex
	subs map[string][]chan []byte
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport constructs a transport identifying as self. peers
// supplies the endpoint directory; callers add committee members to it
// via peers.Add before relying on Broadcast/Send reaching them.
func NewHTTPTransport(self PeerID, peers *PeerSet, logger *log.Logger) *HTTPTransport {
	if logger == nil {
		logger = log.New(log.Writer(), "[Transport] ", log.LstdFlags)
	}
	return &HTTPTransport{
		self:   self,
		peers:  peers,
		client: &http.Client{},
		logger: logger,
		subs:   make(map[string][]chan []byte),
	}
}

// Handler returns the http.Handler that must be mounted at
// httpTransportPathPrefix on the node's HTTP server to receive inbound
// peer traffic.
func (t *HTTPTransport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		topic := r.URL.Path[len(httpTransportPathPrefix):]
		if topic == "" {
			http.Error(w, "missing topic", http.StatusBadRequest)
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		t.deliverLocal(topic, payload)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (t *HTTPTransport) deliverLocal(topic string, payload []byte) {
	t.mu.Lock()
	chans := t.subs[topic]
	t.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- payload:
		default: // slow subscriber drops rather than blocking delivery to others
		}
	}
}

func (t *HTTPTransport) postTo(ctx context.Context, endpoint, topic string, payload []byte) error {
	url := endpoint + httpTransportPathPrefix + topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("network: peer %s rejected %s: %s", endpoint, topic, resp.Status)
	}
	return nil
}

// Broadcast fans payload out to every known peer concurrently, on a
// best-effort basis: one unreachable peer never blocks delivery to the
// rest, matching flood gossip's at-least-once-to-the-honest-majority
// semantics rather than an all-or-nothing send.
func (t *HTTPTransport) Broadcast(ctx context.Context, topic string, payload []byte) error {
	peers := t.peers.All()
	var wg sync.WaitGroup
	for _, p := range peers {
		if p.ID == t.self {
			continue
		}
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			if err := t.postTo(ctx, p.Endpoint, topic, payload); err != nil {
				t.peers.MarkInactive(p.ID)
				t.logger.Printf("broadcast %s -> %x failed: %v", topic, p.ID, err)
				return
			}
			t.peers.MarkActive(p.ID)
		}(p)
	}
	wg.Wait()
	return nil
}

// Send delivers payload to exactly one peer.
func (t *HTTPTransport) Send(ctx context.Context, peer PeerID, topic string, payload []byte) error {
	var target *Peer
	for _, p := range t.peers.All() {
		if p.ID == peer {
			pp := p
			target = &pp
			break
		}
	}
	if target == nil {
		return ErrUnknownPeer
	}
	if err := t.postTo(ctx, target.Endpoint, topic, payload); err != nil {
		t.peers.MarkInactive(peer)
		return err
	}
	t.peers.MarkActive(peer)
	return nil
}

// Subscribe returns a channel of payloads this node has received under
// topic, plus an unsubscribe func.
func (t *HTTPTransport) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	t.mu.Lock()
	t.subs[topic] = append(t.subs[topic], ch)
	t.mu.Unlock()

	unsub := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		chans := t.subs[topic]
		for i, c := range chans {
			if c == ch {
				t.subs[topic] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsub, nil
}

// Peers returns every peer known to this transport, self excluded.
func (t *HTTPTransport) Peers() []PeerID {
	ids := t.peers.IDs()
	out := make([]PeerID, 0, len(ids))
	for _, id := range ids {
		if id != t.self {
			out = append(out, id)
		}
	}
	return out
}
