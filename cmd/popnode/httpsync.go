// Copyright 2025 Certen Protocol
//
// HTTP transport for the state-sync side channel: a thin JSON POST/response
// pair layered the same way http_transport.go layers consensus gossip over
// HTTP, kept here rather than in pkg/pop/network because it depends on
// this process's chainStore for what it serves.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/certen/pop-consensus/pkg/pop/network"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

const syncPath = "/pop/sync"

// syncHandler answers a peer's state-sync request from this node's
// chainStore.
func syncHandlerFor(store *chainStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req network.SyncRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil || json.Unmarshal(body, &req) != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := store.Range(req.FromHeight, req.ToHeight)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// httpSyncPeer implements network.SyncPeer against a peer's syncPath
// endpoint.
type httpSyncPeer struct {
	id       types.PublicKey
	endpoint string
	client   *http.Client
}

// newHTTPSyncPeer constructs a SyncPeer that queries endpoint + syncPath.
func newHTTPSyncPeer(id types.PublicKey, endpoint string) network.SyncPeer {
	return &httpSyncPeer{id: id, endpoint: endpoint, client: &http.Client{}}
}

func (p *httpSyncPeer) PeerID() network.PeerID { return p.id }

func (p *httpSyncPeer) RequestRange(ctx context.Context, req network.SyncRequest) (*network.SyncResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+syncPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("popnode: sync peer %s returned %s", p.endpoint, resp.Status)
	}
	var out network.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
