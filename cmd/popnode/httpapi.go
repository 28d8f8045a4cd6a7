// Copyright 2025 Certen Protocol
//
// HTTP surface for the two client-facing operations spec.md §4.1 and
// §4.2 describe but leave transport-agnostic: submitting a proof into
// the mempool and fetching a light-client inclusion receipt. Laid out
// the same thin JSON POST/response pair httpsync.go uses for its
// sync-side channel.

package main

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/certen/pop-consensus/pkg/pop/mempool"
	"github.com/certen/pop-consensus/pkg/pop/signer"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

const (
	submitProofPath = "/pop/proofs"
	receiptPath     = "/pop/receipts"
)

// submitProofRequest is the wire shape a client POSTs: a proof it has
// already signed as submitter. submitted_at_ns is stamped by the handler,
// not trusted from the caller, so a client can't backdate quota accounting.
type submitProofRequest struct {
	Payload      []byte          `json:"payload"`
	SubmitterPK  types.PublicKey `json:"submitter_pk"`
	SubmitterSig types.Signature `json:"submitter_sig"`
}

type submitProofResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// submitProofHandlerFor answers a proof-submission POST against mp,
// matching the Submit call's "cheap admission only, no logical
// verification" contract (spec.md §4.1) — a 202 here means admitted into
// the unverified tier, not yet proven valid.
func submitProofHandlerFor(mp *mempool.Mempool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req submitProofRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil || json.Unmarshal(body, &req) != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		proof := &types.Proof{
			ID:            types.ComputeProofID(req.Payload, req.SubmitterPK),
			Payload:       req.Payload,
			SubmitterPK:   req.SubmitterPK,
			SubmitterSig:  req.SubmitterSig,
			SubmittedAtNS: uint64(time.Now().UnixNano()),
		}
		result := mp.Submit(proof)

		w.Header().Set("Content-Type", "application/json")
		resp := submitProofResponse{ID: proof.ID.String()}
		if result.Status == mempool.Accepted {
			resp.Status = "accepted"
			w.WriteHeader(http.StatusAccepted)
		} else {
			resp.Status = "rejected"
			if result.Reason != nil {
				resp.Reason = result.Reason.Error()
			}
			w.WriteHeader(http.StatusBadRequest)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// receiptRequest names the state key a light client wants an inclusion
// receipt for.
type receiptRequest struct {
	Domain uint8  `json:"domain"`
	ID     string `json:"id"` // hex-encoded key ID
}

// receiptHandlerFor answers a receipt request against store, signing the
// result as self so any third party can later call state.VerifyInclusion
// without contacting this replica again (spec.md §4.2).
func receiptHandlerFor(store *state.Store, self types.PublicKey, sig *signer.Signer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req receiptRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil || json.Unmarshal(body, &req) != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		id, err := hex.DecodeString(req.ID)
		if err != nil {
			http.Error(w, "bad request: id must be hex", http.StatusBadRequest)
			return
		}
		key := types.StateKey{Domain: req.Domain, ID: id}
		receipt, err := store.IssueReceipt(key, uint64(time.Now().UnixNano()), self, sig.Sign)
		if err != nil {
			http.Error(w, "failed to issue receipt", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(receipt)
	}
}
