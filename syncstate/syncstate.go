// Package syncstate implements the per-peer sync state machine:
// Generate, Receive, and the AdvanceHeads shared-head bookkeeping they
// share. Every other package in this module (hashvec, bloom, wire,
// selector, dedup) exists to serve these two entry points.
//
// Both entry points are pure transitions: (State, Backend, []byte) ->
// (State, ...). Neither suspends, retries, or holds a lock; concurrency
// and I/O are strictly the caller's responsibility.
package syncstate

import (
	"fmt"

	"github.com/crdtsync/crdtsync/backend"
	"github.com/crdtsync/crdtsync/bloom"
	"github.com/crdtsync/crdtsync/dedup"
	"github.com/crdtsync/crdtsync/hashvec"
	"github.com/crdtsync/crdtsync/log"
	"github.com/crdtsync/crdtsync/metrics"
	"github.com/crdtsync/crdtsync/selector"
	"github.com/crdtsync/crdtsync/wire"
)

var logger = log.Default().Module("syncstate")

// Config holds tunables for the Bloom filters a State builds when
// generating outgoing Have entries. A nil *Config passed to New or
// FromPersisted falls back to DefaultConfig.
type Config struct {
	BloomBitsPerEntry uint32
	BloomProbes       uint32
}

// DefaultConfig returns the default Bloom parameters (10 bits/entry,
// 7 probes).
func DefaultConfig() Config {
	return Config{
		BloomBitsPerEntry: bloom.DefaultBitsPerEntry,
		BloomProbes:       bloom.DefaultProbes,
	}
}

func (c *Config) orDefault() Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.BloomBitsPerEntry == 0 {
		out.BloomBitsPerEntry = bloom.DefaultBitsPerEntry
	}
	if out.BloomProbes == 0 {
		out.BloomProbes = bloom.DefaultProbes
	}
	return out
}

// State is everything one peer tracks about one remote peer. Only
// SharedHeads survives a restart (see Persisted/FromPersisted); every
// other field is ephemeral and starts empty for a newly-encountered
// peer.
type State struct {
	cfg Config

	// SharedHeads is the durable subset: hashes the sender is confident
	// both peers hold. Monotone across successful exchanges.
	SharedHeads []hashvec.Hash

	// LastSentHeads are the heads reported in our most recent outgoing
	// message, used to suppress redundant sends.
	LastSentHeads []hashvec.Hash

	// TheirHeads is the last heads the peer told us, or nil if we have
	// not heard from them yet.
	TheirHeads []hashvec.Hash

	// TheirNeed is the last explicit Need the peer told us, or nil.
	TheirNeed []hashvec.Hash

	// OurNeed is the set of hashes we are still missing to apply queued
	// changes.
	OurNeed []hashvec.Hash

	// Have is the peer's most recently reported Have entries, consumed
	// by the next Generate call's change selection.
	Have []wire.HaveEntry

	// UnappliedChanges are received changes not yet applicable because
	// of a missing dependency.
	UnappliedChanges [][]byte

	sentChanges *dedup.Tracker
}

// New returns an empty sync state for a newly-encountered peer. A nil
// cfg uses DefaultConfig.
func New(cfg *Config) *State {
	return &State{
		cfg:         cfg.orDefault(),
		sentChanges: dedup.NewTracker(),
	}
}

// clone returns a shallow copy of s, the starting point for the new
// State a transition returns; Generate and Receive never mutate the
// State passed in.
func (s *State) clone() *State {
	if s == nil {
		return New(nil)
	}
	cp := *s
	return &cp
}

// Persisted extracts the durable subset of s for storage.
func (s *State) Persisted() wire.PersistedPeerState {
	if s == nil {
		return wire.PersistedPeerState{}
	}
	return wire.PersistedPeerState{SharedHeads: s.SharedHeads}
}

// FromPersisted reconstructs a State from its durable subset, with
// every ephemeral field at its empty default. A nil cfg uses
// DefaultConfig.
func FromPersisted(p wire.PersistedPeerState, cfg *Config) *State {
	s := New(cfg)
	s.SharedHeads = append([]hashvec.Hash(nil), p.SharedHeads...)
	return s
}

// subsetOf reports whether every hash in small also appears in big.
func subsetOf(small, big []hashvec.Hash) bool {
	if len(small) == 0 {
		return true
	}
	set := make(map[hashvec.Hash]struct{}, len(big))
	for _, h := range big {
		set[h] = struct{}{}
	}
	for _, h := range small {
		if _, ok := set[h]; !ok {
			return false
		}
	}
	return true
}

// AdvanceHeads computes the new sharedHeads after applying changes
// that moved our heads from myOldHeads to myNewHeads: heads we just
// produced plus old shared heads the new heads didn't displace.
func AdvanceHeads(myOldHeads, myNewHeads, ourOldSharedHeads []hashvec.Hash) []hashvec.Hash {
	newHeads := hashvec.Diff(myNewHeads, myOldHeads)
	commonHeads := hashvec.Intersect(ourOldSharedHeads, myNewHeads)
	return hashvec.Union(newHeads, commonHeads)
}

// allKnown reports whether be already holds every hash in hashes.
func allKnown(be backend.Backend, hashes []hashvec.Hash) (bool, error) {
	for _, h := range hashes {
		_, ok, err := be.GetChangeByHash(h)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Generate produces the next outgoing sync message for a peer. state
// may be nil, in which case an empty State is used. It returns the new
// state and the encoded outgoing message, or a nil message when the
// peers have converged and nothing needs sending.
func Generate(state *State, be backend.Backend) (*State, []byte, error) {
	s := state
	if s == nil {
		s = New(nil)
	}

	ourHeads, err := be.Heads()
	if err != nil {
		return state, nil, fmt.Errorf("syncstate: generate: heads: %w", err)
	}
	ourHeads = hashvec.SortDedup(ourHeads)

	// Reset detection: if any hash the peer's most recent Have
	// entries claim to be synced up to is unknown to us, we cannot
	// reason about what they hold relative to it; ask them to start
	// over and leave persisted state untouched.
	for _, h := range s.Have {
		known, err := allKnown(be, h.LastSync)
		if err != nil {
			return state, nil, fmt.Errorf("syncstate: generate: reset check: %w", err)
		}
		if !known {
			reset := wire.SyncMessage{
				Heads:   ourHeads,
				Need:    nil,
				Have:    []wire.HaveEntry{{LastSync: nil, Bloom: &bloom.Filter{}}},
				Changes: nil,
			}
			encoded, err := wire.EncodeSyncMessage(reset)
			if err != nil {
				return state, nil, fmt.Errorf("syncstate: generate: encode reset: %w", err)
			}
			logger.Warn("peer references unknown lastSync, sending reset")
			metrics.MessagesSent.Inc()
			metrics.ResetsSent.Inc()
			return state, encoded, nil
		}
	}

	// Have construction: solicit more only when we need nothing, or
	// everything we need is among the peer's heads. Otherwise we are
	// waiting on intermediate dependencies and the message only requests
	// them.
	var ourHave []wire.HaveEntry
	if len(s.OurNeed) == 0 || subsetOf(s.OurNeed, s.TheirHeads) {
		notReachable, err := be.GetMissingChanges(s.SharedHeads)
		if err != nil {
			return state, nil, fmt.Errorf("syncstate: generate: missing changes: %w", err)
		}
		hashes := make([]hashvec.Hash, 0, len(notReachable))
		for _, blob := range notReachable {
			meta, err := be.DecodeChangeMeta(blob)
			if err != nil {
				return state, nil, fmt.Errorf("syncstate: generate: decode meta: %w", err)
			}
			hashes = append(hashes, meta.Hash)
		}
		filter := bloom.New(uint32(len(hashes)), s.cfg.BloomBitsPerEntry, s.cfg.BloomProbes)
		for _, h := range hashes {
			filter.Insert(h)
		}
		metrics.BloomBytes.Observe(float64(len(filter.Encode(nil))))
		ourHave = []wire.HaveEntry{{LastSync: s.SharedHeads, Bloom: filter}}
	}

	// Change computation happens only once we've heard from the peer at
	// least once (both their Have and their Need are known to us).
	var changesToSend [][]byte
	if s.Have != nil && s.TheirNeed != nil {
		changesToSend, err = selector.Select(be, s.Have, s.TheirNeed)
		if err != nil {
			return state, nil, fmt.Errorf("syncstate: generate: select: %w", err)
		}
	}

	// Convergence short-circuit: both sides are already level.
	if hashvec.Equal(ourHeads, s.LastSentHeads) &&
		hashvec.Equal(ourHeads, s.TheirHeads) &&
		len(changesToSend) == 0 &&
		len(s.OurNeed) == 0 {
		return state, nil, nil
	}

	// Dedup against sentChanges. s.sentChanges is read-only here
	// -- Filter never mutates -- so the caller's state is untouched
	// until we commit to returning a new one below.
	sentChanges := s.sentChanges
	if sentChanges == nil {
		sentChanges = dedup.NewTracker()
	}
	if len(changesToSend) > 0 && sentChanges.Len() > 0 {
		changesToSend = sentChanges.Filter(changesToSend)
	}

	msg := wire.SyncMessage{
		Heads:   ourHeads,
		Need:    s.OurNeed,
		Have:    ourHave,
		Changes: changesToSend,
	}
	encoded, err := wire.EncodeSyncMessage(msg)
	if err != nil {
		return state, nil, fmt.Errorf("syncstate: generate: encode: %w", err)
	}

	next := s.clone()
	next.LastSentHeads = ourHeads
	if len(changesToSend) > 0 {
		next.sentChanges = sentChanges.Clone()
		next.sentChanges.Record(changesToSend)
	} else {
		next.sentChanges = sentChanges
	}

	logger.Debug("generated sync message",
		"heads", len(ourHeads), "have", len(ourHave), "changes", len(changesToSend))
	metrics.MessagesSent.Inc()
	metrics.ChangesSent.Add(int64(len(changesToSend)))

	return next, encoded, nil
}

// Receive folds an incoming message into the peer's sync state. state
// may be nil, in which case an empty State is used. be is mutated in
// place by ApplyChanges when the carried changes become applicable.
// The returned patch is nil unless changes were actually applied this
// call.
func Receive(state *State, be backend.Backend, raw []byte) (*State, *backend.Patch, error) {
	s := state
	if s == nil {
		s = New(nil)
	}

	msg, err := wire.DecodeSyncMessage(raw)
	if err != nil {
		return state, nil, fmt.Errorf("syncstate: receive: decode: %w", err)
	}

	beforeHeads, err := be.Heads()
	if err != nil {
		return state, nil, fmt.Errorf("syncstate: receive: heads: %w", err)
	}
	beforeHeads = hashvec.SortDedup(beforeHeads)

	next := s.clone()
	var patch *backend.Patch
	applied := false

	if len(msg.Changes) > 0 {
		// Apply-changes path.
		unapplied := append(append([][]byte(nil), s.UnappliedChanges...), msg.Changes...)
		ourNeed, err := be.GetMissingDeps(unapplied, msg.Heads)
		if err != nil {
			return state, nil, fmt.Errorf("syncstate: receive: missing deps: %w", err)
		}
		ourNeed = hashvec.SortDedup(ourNeed)

		if subsetOf(ourNeed, msg.Heads) {
			p, err := be.ApplyChanges(unapplied)
			if err != nil {
				return state, nil, fmt.Errorf("syncstate: receive: apply: %w", err)
			}
			patch = &p
			applied = true
			next.UnappliedChanges = nil
			next.OurNeed = ourNeed
		} else {
			next.UnappliedChanges = unapplied
			next.OurNeed = ourNeed
		}
	} else {
		// Idle path: suppress a redundant reply next round if
		// the peer isn't actually ahead of where we already are.
		if hashvec.EqualAsSets(msg.Heads, beforeHeads) {
			next.LastSentHeads = msg.Heads
		}
	}

	// Shared-head update. The two rules are mutually exclusive:
	// AdvanceHeads applies only on the round that actually applied
	// changes; the coverage-based rule applies on every other round
	// (idle, or changes still pending a dependency).
	if applied {
		afterHeads, err := be.Heads()
		if err != nil {
			return state, nil, fmt.Errorf("syncstate: receive: heads after apply: %w", err)
		}
		afterHeads = hashvec.SortDedup(afterHeads)
		next.SharedHeads = AdvanceHeads(beforeHeads, afterHeads, s.SharedHeads)
	} else {
		known, err := allKnown(be, msg.Heads)
		if err != nil {
			return state, nil, fmt.Errorf("syncstate: receive: coverage check: %w", err)
		}
		if known {
			next.SharedHeads = hashvec.SortDedup(msg.Heads)
		} else {
			coveredSoFar, err := knownSubset(be, msg.Heads)
			if err != nil {
				return state, nil, fmt.Errorf("syncstate: receive: coverage subset: %w", err)
			}
			next.SharedHeads = hashvec.Union(coveredSoFar, s.SharedHeads)
		}
	}

	// Compose the rest of the new state from the message.
	next.TheirHeads = msg.Heads
	next.TheirNeed = msg.Need
	next.Have = msg.Have
	next.sentChanges = s.sentChanges

	logger.Debug("received sync message",
		"heads", len(msg.Heads), "changes", len(msg.Changes), "applied", applied)
	metrics.MessagesReceived.Inc()
	if patch != nil {
		metrics.ChangesApplied.Add(int64(len(patch.AppliedHashes)))
	}

	return next, patch, nil
}

// knownSubset returns the hashes in want that be already holds.
func knownSubset(be backend.Backend, want []hashvec.Hash) ([]hashvec.Hash, error) {
	var out []hashvec.Hash
	for _, h := range want {
		_, ok, err := be.GetChangeByHash(h)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, h)
		}
	}
	return out, nil
}
