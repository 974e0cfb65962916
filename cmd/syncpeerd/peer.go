package main

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/crdtsync/crdtsync/backend"
	"github.com/crdtsync/crdtsync/log"
	"github.com/crdtsync/crdtsync/metrics"
	"github.com/crdtsync/crdtsync/syncstate"
	"github.com/crdtsync/crdtsync/transport"
	"github.com/crdtsync/crdtsync/wire"
)

var logger = log.Default().Module("syncpeerd")

// peerActor owns one peer relationship end to end: it is the sole
// caller of syncstate.Generate/Receive for its Channel, so state never
// needs a lock. A ticker drives
// outbound Generate calls; a reader goroutine feeds inbound bytes back
// into the actor's own goroutine over inbox.
type peerActor struct {
	cfg     Config
	be      backend.Backend
	channel transport.Channel
	state   *syncstate.State
}

// run drives the actor until stop is closed or the channel errors
// fatally. It persists the peer's durable state after every round that
// could have changed it.
func (a *peerActor) run(stop <-chan struct{}) error {
	inbox := make(chan []byte, 8)
	readErrs := make(chan error, 1)
	go a.readLoop(inbox, readErrs, stop)

	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil

		case err := <-readErrs:
			sentry.CaptureException(err)
			return err

		case <-ticker.C:
			if err := a.generate(); err != nil {
				logger.Error("generate failed", "err", err)
				sentry.CaptureException(err)
				continue
			}

		case raw := <-inbox:
			if err := a.receive(raw); err != nil {
				logger.Error("receive failed", "err", err)
				sentry.CaptureException(err)
				continue
			}
		}
	}
}

func (a *peerActor) readLoop(inbox chan<- []byte, errs chan<- error, stop <-chan struct{}) {
	for {
		raw, err := a.channel.Receive()
		if err != nil {
			select {
			case errs <- err:
			case <-stop:
			}
			return
		}
		select {
		case inbox <- raw:
		case <-stop:
			return
		}
	}
}

func (a *peerActor) generate() error {
	t := metrics.NewTimer(metrics.GenerateLatency)
	next, msg, err := syncstate.Generate(a.state, a.be)
	t.Stop()
	if err != nil {
		return err
	}
	a.state = next
	if msg == nil {
		return nil
	}
	if len(msg) > wire.RecommendedMaxMessageSize {
		logger.Warn("outgoing message exceeds recommended size",
			"bytes", len(msg), "limit", wire.RecommendedMaxMessageSize)
	}
	if err := a.channel.Send(msg); err != nil {
		return err
	}
	metrics.MessageRate.Mark(1)
	return savePeerState(a.cfg.DataDir, a.state)
}

func (a *peerActor) receive(raw []byte) error {
	t := metrics.NewTimer(metrics.ReceiveLatency)
	next, patch, err := syncstate.Receive(a.state, a.be, raw)
	t.Stop()
	if err != nil {
		return err
	}
	metrics.MessageRate.Mark(1)
	a.state = next
	if patch != nil {
		logger.Info("applied changes", "count", len(patch.AppliedHashes))
	}
	return savePeerState(a.cfg.DataDir, a.state)
}
