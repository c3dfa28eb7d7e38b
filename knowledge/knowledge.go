// Package knowledge implements the per-agent ActivityHandler of spec.md
// §3/§4.2: an owned list (strictly ordered, non-overlapping) and an
// others map (keyed by peer id, then by peer sequence number), with
// add/update/purge and priority-ranked exchange selection.
package knowledge

import (
	"fmt"
	"sort"

	"constellation/activity"
	"constellation/clock"
)

// PriorityWeights are the fixed coefficients spec.md §4.2 assigns to the
// three priority components (age, time-since-update, start-time
// proximity). The spec's prose lists four figures (3/10, 4/10, 0, 3/10)
// for what it otherwise describes as three components; this package drops
// the zero-weighted figure and keeps the three named components, which
// sum to 1.
var PriorityWeights = struct {
	Age, Update, Proximity float64
}{Age: 0.3, Update: 0.4, Proximity: 0.3}

// Handler is one agent's knowledge base.
type Handler struct {
	AgentID string
	// Scale is the normalisation time-scale (typically goal_target) used to
	// map raw ages/deltas into (0,1] priority components.
	Scale clock.Time

	owned      []*activity.Activity
	others     map[string]map[uint64]*activity.Activity
	currentIdx int
	nextSeq    uint64
}

// New constructs an empty Handler for agentID.
func New(agentID string, scale clock.Time) *Handler {
	return &Handler{
		AgentID:    agentID,
		Scale:      scale,
		others:     make(map[string]map[uint64]*activity.Activity),
		currentIdx: -1,
	}
}

// Owned returns the owned list, ordered by start-time ascending. Callers
// must not mutate the returned slice.
func (h *Handler) Owned() []*activity.Activity { return h.owned }

// Others returns the peer-id -> seq -> activity map. Callers must not
// mutate the returned map.
func (h *Handler) Others() map[string]map[uint64]*activity.Activity { return h.others }

// AddOwned assigns the next sequence number to a, inserts it into the
// owned list in start-time order, and rejects it if it overlaps an
// existing owned activity (spec.md §4.2's "strictly non-overlapping"
// invariant).
func (h *Handler) AddOwned(now clock.Time, a *activity.Activity) error {
	a.Owner = h.AgentID
	a.Seq = h.nextSeq
	a.Created = now
	a.LastUpdate = now

	idx := sort.Search(len(h.owned), func(i int) bool { return h.owned[i].Start >= a.Start })
	if idx > 0 && h.owned[idx-1].End > a.Start {
		return fmt.Errorf("knowledge: new owned activity %s overlaps %s", a.ID(), h.owned[idx-1].ID())
	}
	if idx < len(h.owned) && a.End > h.owned[idx].Start {
		return fmt.Errorf("knowledge: new owned activity %s overlaps %s", a.ID(), h.owned[idx].ID())
	}

	h.owned = append(h.owned, nil)
	copy(h.owned[idx+1:], h.owned[idx:])
	h.owned[idx] = a
	h.nextSeq++
	h.reindex(now)
	return nil
}

// RemoveOwned removes an owned activity by id, e.g. when a scheduler
// solution discards a previously-scheduled task.
func (h *Handler) RemoveOwned(now clock.Time, id activity.ID) {
	for i, a := range h.owned {
		if a.ID() == id {
			h.owned = append(h.owned[:i], h.owned[i+1:]...)
			h.reindex(now)
			return
		}
	}
}

// AddPeer records an inbound copy of a peer-owned activity. Per spec.md
// §7's category-5 error kind, a duplicate add with an older-or-equal
// timestamp is silently ignored rather than erroring; it returns whether
// the record was added or replaced.
func (h *Handler) AddPeer(a *activity.Activity) bool {
	peers, ok := h.others[a.Owner]
	if !ok {
		peers = make(map[uint64]*activity.Activity)
		h.others[a.Owner] = peers
	}
	existing, ok := peers[a.Seq]
	if !ok {
		peers[a.Seq] = a.Clone()
		return true
	}
	return activity.ReplaceIfNewer(existing, a)
}

// IsCapturing reports the owned activity executing at time t, if any, in
// O(1) via the maintained current-activity index.
func (h *Handler) IsCapturing(t clock.Time) (*activity.Activity, bool) {
	if h.currentIdx < 0 || h.currentIdx >= len(h.owned) {
		return nil, false
	}
	a := h.owned[h.currentIdx]
	if (activity.TimeSpan{Start: a.Start, End: a.End}).Contains(t) {
		return a, true
	}
	return nil, false
}

// Update re-locates the current-activity index via binary search over the
// start-ordered owned list (spec.md §4.2's "O(log N) fallback search"),
// and confirms any owned activity whose window has just closed and is
// still undecided -- execution completing without an explicit discard is
// treated as a confirmed observation.
func (h *Handler) Update(now clock.Time) {
	h.reindex(now)
	for _, a := range h.owned {
		if a.End <= now && !a.IsFact() {
			a.SetConfirmed(now)
		}
	}
}

func (h *Handler) reindex(now clock.Time) {
	idx := sort.Search(len(h.owned), func(i int) bool { return h.owned[i].End > now })
	if idx < len(h.owned) && (activity.TimeSpan{Start: h.owned[idx].Start, End: h.owned[idx].End}).Contains(now) {
		h.currentIdx = idx
	} else {
		h.currentIdx = -1
	}
}

// Purge erases, from both the owned list and the others map, every
// activity whose end-time is older than now-goalTarget (spec.md §4.2),
// then re-derives the current-activity index.
func (h *Handler) Purge(now clock.Time, goalTarget clock.Time) {
	horizon := now - goalTarget

	kept := h.owned[:0:0]
	for _, a := range h.owned {
		if a.End >= horizon {
			kept = append(kept, a)
		}
	}
	h.owned = kept

	for peer, seqs := range h.others {
		for seq, a := range seqs {
			if a.End < horizon {
				delete(seqs, seq)
			}
		}
		if len(seqs) == 0 {
			delete(h.others, peer)
		}
	}

	h.reindex(now)
}

// priority computes the weighted-sum priority of spec.md §4.2: higher for
// fresh (low age), recently-updated (low time-since-update), and
// temporally-near (low |start-now|) activities.
func (h *Handler) priority(a *activity.Activity, now clock.Time) float64 {
	scale := float64(h.Scale)
	if scale <= 0 {
		scale = 1
	}
	age := float64(now - a.Created)
	sinceUpdate := float64(now - a.LastUpdate)
	proximity := float64(now - a.Start)
	if proximity < 0 {
		proximity = -proximity
	}

	norm := func(x float64) float64 {
		if x < 0 {
			x = 0
		}
		return 1 / (1 + x/scale)
	}

	return PriorityWeights.Age*norm(age) +
		PriorityWeights.Update*norm(sinceUpdate) +
		PriorityWeights.Proximity*norm(proximity)
}

// GetActivitiesToExchange returns up to 20 activities, ranked by priority
// descending, with end-time >= now-goalTarget, excluding peerID's own
// activities (spec.md §4.2's exchange-selection rule).
func (h *Handler) GetActivitiesToExchange(peerID string, now clock.Time, goalTarget clock.Time) []*activity.Activity {
	horizon := now - goalTarget
	var candidates []*activity.Activity

	for _, a := range h.owned {
		if a.End >= horizon {
			candidates = append(candidates, a)
		}
	}
	for owner, seqs := range h.others {
		if owner == peerID {
			continue
		}
		for _, a := range seqs {
			if a.End >= horizon {
				candidates = append(candidates, a)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return h.priority(candidates[i], now) > h.priority(candidates[j], now)
	})

	if len(candidates) > 20 {
		candidates = candidates[:20]
	}
	return candidates
}

// CountFacts returns the number of own and peer activities that are
// currently facts (confirmed or discarded) vs undecided, for the
// per-agent `knowledgebase.csv` report (spec.md §6).
func (h *Handler) CountFacts() (ownFacts, ownUndecided, peerFacts, peerUndecided int) {
	for _, a := range h.owned {
		if a.IsFact() {
			ownFacts++
		} else {
			ownUndecided++
		}
	}
	for _, seqs := range h.others {
		for _, a := range seqs {
			if a.IsFact() {
				peerFacts++
			} else {
				peerUndecided++
			}
		}
	}
	return
}
