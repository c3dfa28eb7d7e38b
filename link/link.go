// Package link implements the per-agent inter-satellite communications
// endpoint of spec.md §4.7: a per-peer DISCONNECTED/LINE_OF_SIGHT/
// CONNECTED/SENDING state machine, TX/RX transfer queues, range/
// line-of-sight tracking, and transfer-energy accounting.
package link

import (
	"constellation/activity"
	"constellation/clock"
	"constellation/geo"
)

// State is one peer connection's position in the link state machine.
type State int

const (
	Disconnected State = iota
	LineOfSight
	Connected
	Sending
)

// BaseActivityBytes is the fixed per-transfer payload size before
// per-trajectory-sample overhead (spec.md §4.7's "fixed activity size in
// bytes").
const BaseActivityBytes = 256

// BytesPerTrajectorySample is the per-sample overhead added to a
// transfer's size.
const BytesPerTrajectorySample = 12

// Transfer is one queued activity exchange (spec.md §3 "Transfer record").
type Transfer struct {
	ID       uint64
	Payload  *activity.Activity
	Start    *clock.Time
	End      *clock.Time
	Started  bool
	Finished bool
}

// PeerLink is this agent's view of its connection to a single peer.
type PeerLink struct {
	PeerID        string
	State         State
	TX            []*Transfer
	RX            []*Transfer
	NextReconnect clock.Time
}

// Link is a per-agent communications endpoint with a fixed range and
// datarate, a presence table of peer connections, and encounter/connected
// callbacks.
type Link struct {
	AgentID     string
	RangeMeters float64
	DatarateBps float64

	Peers map[string]*PeerLink

	// EncounterCallback may veto a new connection; ConnectedCallback fires
	// on every successful (re)connection.
	EncounterCallback func(peerID string) bool
	ConnectedCallback func(peerID string)
	// FailureCallback fires when a transfer is interrupted mid-flight by a
	// disconnection (spec.md §4.10).
	FailureCallback func(peerID string, t *Transfer)
	// SuccessCallback fires when a transfer completes normally.
	SuccessCallback func(peerID string, t *Transfer)

	nextTransferID uint64
}

// New constructs an empty Link.
func New(agentID string, rangeMeters, datarateBps float64) *Link {
	return &Link{
		AgentID:     agentID,
		RangeMeters: rangeMeters,
		DatarateBps: datarateBps,
		Peers:       make(map[string]*PeerLink),
	}
}

func (l *Link) peer(peerID string) *PeerLink {
	p, ok := l.Peers[peerID]
	if !ok {
		p = &PeerLink{PeerID: peerID, State: Disconnected}
		l.Peers[peerID] = p
	}
	return p
}

// lineOfSight reports whether the straight segment between a and b avoids
// intersecting the Earth sphere of radius r.
func lineOfSight(a, b geo.Vec3, r float64) bool {
	d := geo.Vec3{X: b.X - a.X, Y: b.Y - a.Y, Z: b.Z - a.Z}
	denom := d.Dot(d)
	if denom == 0 {
		return a.Norm() >= r
	}
	t := -(a.X*d.X + a.Y*d.Y + a.Z*d.Z) / denom
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	closest := geo.Vec3{X: a.X + t*d.X, Y: a.Y + t*d.Y, Z: a.Z + t*d.Z}
	return closest.Norm() >= r
}

// UpdateRange re-evaluates this agent's connection to one peer given both
// agents' current ECI positions and the peer's configured range
// (spec.md §4.7 step (i)). It transitions DISCONNECTED<->LINE_OF_SIGHT and
// drives CONNECTED/SENDING back to DISCONNECTED on loss of range/LOS.
func (l *Link) UpdateRange(selfPos, peerPos geo.Vec3, peerRangeMeters float64, peerID string) {
	p := l.peer(peerID)

	los := lineOfSight(selfPos, peerPos, geo.EarthRadiusMeters)
	dist := geo.Distance(selfPos, peerPos)
	inRange := dist <= l.RangeMeters && dist <= peerRangeMeters

	if !los || !inRange {
		if p.State == Connected || p.State == Sending {
			l.cancelAllTX(p)
		}
		p.State = Disconnected
		return
	}

	switch p.State {
	case Disconnected:
		if l.EncounterCallback == nil || l.EncounterCallback(peerID) {
			p.State = LineOfSight
		}
	case LineOfSight:
		// Promotion to CONNECTED is driven by TryConnect, called explicitly by
		// the owning agent.
	}
}

// TryConnect promotes a LINE_OF_SIGHT peer to CONNECTED on this side of the
// link and invokes ConnectedCallback. It does not check the peer's own
// link state; each side is promoted by its own TryConnect call.
func (l *Link) TryConnect(peerID string) bool {
	p := l.peer(peerID)
	if p.State != LineOfSight {
		return p.State == Connected || p.State == Sending
	}
	p.State = Connected
	if l.ConnectedCallback != nil {
		l.ConnectedCallback(peerID)
	}
	return true
}

func (l *Link) cancelAllTX(p *PeerLink) {
	for _, tr := range p.TX {
		if !tr.Finished {
			if l.FailureCallback != nil {
				l.FailureCallback(p.PeerID, tr)
			}
		}
	}
	p.TX = nil
}

// TransferDuration computes B/D converted to the clock's virtual-time
// unit, where B is the activity's wire size in bits (spec.md §4.7).
func TransferDuration(payload *activity.Activity, datarateBps float64) clock.Time {
	if datarateBps <= 0 {
		return 0
	}
	sizeBytes := BaseActivityBytes + len(payload.Trajectory)*BytesPerTrajectorySample
	sizeBits := float64(sizeBytes) * 8
	return clock.Time(sizeBits / datarateBps)
}

// ScheduleSend enqueues payload for delivery to peerID, applying spec.md
// §4.7's "scheduling a send" dedup rule: an already-queued, unfinished
// equivalent transfer is left alone; a completed one is re-queued only if
// payload carries a strictly newer last-update; otherwise a fresh entry is
// appended with start/end unset.
func (l *Link) ScheduleSend(peerID string, payload *activity.Activity) {
	p := l.peer(peerID)
	id := payload.ID()

	for _, tr := range p.TX {
		if tr.Payload.ID() != id {
			continue
		}
		if !tr.Finished {
			return
		}
		if payload.LastUpdate > tr.Payload.LastUpdate {
			tr.Payload = payload.Clone()
			tr.Started = false
			tr.Finished = false
			tr.Start = nil
			tr.End = nil
		}
		return
	}

	l.nextTransferID++
	p.TX = append(p.TX, &Transfer{ID: l.nextTransferID, Payload: payload.Clone()})
}

// StepTransfers advances every connected peer's TX queue by one Δt
// (spec.md §4.7 step (ii)): assigning start/end times to newly-queued
// transfers, starting transfers whose window has opened (enqueuing them on
// the resolved peer's RX), debiting TX energy for in-flight transfers, and
// completing/dropping transfers whose window has closed. txEnergyRate is
// energy consumed per unit of virtual time a transfer is in flight; resolve
// looks up a peer agent's
// Link by id so this step can enqueue directly onto its RX queue (both
// agents live in the same process -- there is no real network hop).
func (l *Link) StepTransfers(now, dt clock.Time, txEnergyRate float64, applyTXEnergy func(amount float64), resolve func(peerID string) *Link) {
	for peerID, p := range l.Peers {
		if p.State != Connected && p.State != Sending {
			continue
		}
		peer := resolve(peerID)

		var prevEnd clock.Time
		kept := p.TX[:0:0]
		anyInFlight := false

		for _, tr := range p.TX {
			if tr.Start == nil {
				start := now
				if prevEnd > start {
					start = prevEnd
				}
				end := start + TransferDuration(tr.Payload, l.DatarateBps)
				tr.Start = &start
				tr.End = &end
			}
			prevEnd = *tr.End

			windowStart := now - dt
			if windowStart < *tr.Start {
				windowStart = *tr.Start
			}
			windowEnd := now
			if windowEnd > *tr.End {
				windowEnd = *tr.End
			}
			overlap := float64(windowEnd - windowStart)

			if !tr.Started && *tr.Start <= now && now <= *tr.End {
				tr.Started = true
				if peer != nil {
					peer.enqueueRX(l.AgentID, tr)
				}
			}

			if tr.Started && !tr.Finished {
				anyInFlight = true
				if overlap > 0 && applyTXEnergy != nil {
					applyTXEnergy(txEnergyRate * overlap)
				}
				if now >= *tr.End {
					tr.Finished = true
					if peer != nil {
						peer.markRXFinished(l.AgentID, tr.ID)
					}
					if l.SuccessCallback != nil {
						l.SuccessCallback(peerID, tr)
					}
					continue // drop: do not keep in TX
				}
			}
			kept = append(kept, tr)
		}
		p.TX = kept

		if anyInFlight {
			p.State = Sending
		} else if p.State == Sending {
			p.State = Connected
		}
	}
}

func (l *Link) enqueueRX(fromPeerID string, tr *Transfer) {
	p := l.peer(fromPeerID)
	p.RX = append(p.RX, &Transfer{ID: tr.ID, Payload: tr.Payload, Start: tr.Start, End: tr.End, Started: true})
}

func (l *Link) markRXFinished(fromPeerID string, transferID uint64) {
	p := l.peer(fromPeerID)
	for _, tr := range p.RX {
		if tr.ID == transferID {
			tr.Finished = true
			return
		}
	}
}

// StepRXEnergy debits RX energy proportionally for every in-flight (started,
// unfinished) RX transfer (spec.md §4.7 step (iii)).
func (l *Link) StepRXEnergy(dt clock.Time, rxEnergyRate float64, applyRXEnergy func(amount float64)) {
	if applyRXEnergy == nil {
		return
	}
	inFlight := 0
	for _, p := range l.Peers {
		for _, tr := range p.RX {
			if tr.Started && !tr.Finished {
				inFlight++
			}
		}
	}
	if inFlight > 0 {
		applyRXEnergy(rxEnergyRate * float64(dt) * float64(inFlight))
	}
}

// DrainRX returns and clears all finished RX transfers from peerID, for
// the agent's Listen stage to fold into its knowledge base.
func (l *Link) DrainRX(peerID string) []*Transfer {
	p := l.peer(peerID)
	var done []*Transfer
	var remaining []*Transfer
	for _, tr := range p.RX {
		if tr.Finished {
			done = append(done, tr)
		} else {
			remaining = append(remaining, tr)
		}
	}
	p.RX = remaining
	return done
}
