// Copyright 2025 Certen Protocol
//
// Listener pumps inbound gossip into a consensus.Replica's Handle*
// methods — the receiving half of the network façade. One goroutine per
// topic, matching the teacher's habit (pkg/batch/scheduler.go,
// confirmation_tracker.go) of a dedicated loop per concern rather than a
// single multiplexed dispatcher.

package network

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/certen/pop-consensus/pkg/pop/consensus"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// Listener wires a Gossip's inbound topics to a Replica.
type Listener struct {
	gossip  *Gossip
	replica *consensus.Replica
	logger  *log.Logger

	mu      sync.Mutex
	unsubs  []func()
	running bool
}

// NewListener constructs a Listener for replica over gossip.
func NewListener(gossip *Gossip, replica *consensus.Replica, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.New(log.Writer(), "[Listener] ", log.LstdFlags)
	}
	return &Listener{gossip: gossip, replica: replica, logger: logger}
}

// Start subscribes to every consensus-message topic and begins dispatch.
// Calling Start twice without an intervening Stop is a no-op.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	if err := l.pump(TopicPrePrepare, func(b []byte) error {
		var m types.PrePrepare
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		return l.replica.HandlePrePrepare(&m)
	}); err != nil {
		return err
	}
	if err := l.pump(TopicPrepare, func(b []byte) error {
		var m types.Prepare
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		return l.replica.HandlePrepare(&m)
	}); err != nil {
		return err
	}
	if err := l.pump(TopicCommit, func(b []byte) error {
		var m types.Commit
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		return l.replica.HandleCommit(&m)
	}); err != nil {
		return err
	}
	if err := l.pump(TopicViewChange, func(b []byte) error {
		var m types.ViewChange
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		return l.replica.HandleViewChange(&m)
	}); err != nil {
		return err
	}
	if err := l.pump(TopicNewView, func(b []byte) error {
		var m types.NewView
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		return l.replica.HandleNewView(&m)
	}); err != nil {
		return err
	}
	if err := l.pump(TopicEvidence, func(b []byte) error {
		var m types.Evidence
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		return l.replica.HandleEvidence(&m)
	}); err != nil {
		return err
	}

	l.running = true
	return nil
}

// pump subscribes to topic and runs handle over every delivered payload
// on its own goroutine until the subscription channel closes.
func (l *Listener) pump(topic string, handle func([]byte) error) error {
	ch, unsub, err := l.gossip.Subscribe(topic)
	if err != nil {
		return err
	}
	l.unsubs = append(l.unsubs, unsub)

	go func() {
		for payload := range ch {
			if err := handle(payload); err != nil {
				l.logger.Printf("dropping message on %s: %v", topic, err)
			}
		}
	}()
	return nil
}

// Stop unsubscribes from every topic. Outstanding pump goroutines exit
// once their channel is closed by the transport.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	for _, unsub := range l.unsubs {
		unsub()
	}
	l.unsubs = nil
	l.running = false
}
