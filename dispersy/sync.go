package dispersy

import (
	"fmt"
	"sort"
	"time"

	"github.com/dispersy-go/dispersy/community"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/member"
	"github.com/dispersy-go/dispersy/message"
	"github.com/dispersy-go/dispersy/store"
	"github.com/dispersy-go/dispersy/timeline"
	"github.com/dispersy-go/dispersy/trigger"
	"golang.org/x/time/rate"
)

// peerBudget is the per-peer token bucket limiting how many sync
// candidates are forwarded in response to one dispersy-sync.
type peerBudget struct {
	limiters map[string]*rate.Limiter
}

func newPeerBudget() *peerBudget {
	return &peerBudget{limiters: make(map[string]*rate.Limiter)}
}

// syncSendsPerSecond and syncBurst bound how fast the dispatcher will
// answer any single peer's dispersy-sync with stored candidates.
const (
	syncSendsPerSecond = 20
	syncBurst          = 50
)

func (b *peerBudget) forAddr(addr string) *rate.Limiter {
	if l, ok := b.limiters[addr]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(syncSendsPerSecond), syncBurst)
	b.limiters[addr] = l
	return l
}

// StoreAndForward persists (where applicable) and sends a batch of
// locally-originated messages, encoding each with its community's
// Conversion and handing it to the Transport.
func (d *Dispatcher) StoreAndForward(msgs []*message.Message, signer *member.Member) error {
	for _, msg := range msgs {
		c, ok := d.Community(msg.CommunityID)
		if !ok {
			return fmt.Errorf("dispersy: store and forward: unknown community %x", msg.CommunityID)
		}
		packet, err := c.Conversion().Encode(msg, signer)
		if err != nil {
			return fmt.Errorf("dispersy: encode outgoing message: %w", err)
		}
		msg.Encoded = packet

		if msg.Persisted() {
			if err := c.OnIncomingMessage("", msg, d.handlersFor(msg.CommunityID)); err != nil {
				return fmt.Errorf("dispersy: persist outgoing message: %w", err)
			}
		}

		if err := d.sendToDestination(c, msg, packet); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) sendToDestination(c *community.Community, msg *message.Message, packet []byte) error {
	switch msg.Destination.Kind {
	case message.DestAddress:
		return d.transport.Send(msg.Destination.Addr, packet)
	case message.DestMember:
		for range msg.Destination.Members {
			// Address resolution for a member destination is the
			// network layer's job; the dispatcher only has addr
			// strings to work with once a peer has been seen.
		}
		return nil
	default: // DestCommunity: broadcast is driven by the sync loop, not here
		return nil
	}
}

// AddTrigger registers t on community cid's Trigger Table directly,
// for callers (tests, protocol extensions) that want to wait on a
// footprint without going through the packet/message delay paths.
func (d *Dispatcher) AddTrigger(cid ids.CID, t trigger.Trigger, deadlineSeconds int) error {
	c, ok := d.Community(cid)
	if !ok {
		return fmt.Errorf("dispersy: add trigger: unknown community %x", cid)
	}
	c.Triggers().Add(t, time.Now().Add(time.Duration(deadlineSeconds)*time.Second))
	return nil
}

// SyncCandidate is one stored packet considered for forwarding in
// response to a peer's dispersy-sync Bloom filter.
type SyncCandidate struct {
	GlobalTime uint64
	Packet     []byte
}

// RunSyncTick implements one round of anti-entropy exchange for
// community cid against a peer's advertised window: the peer's Bloom
// filter is checked for every locally stored candidate in the window,
// and anything absent from the peer's filter is forwarded, subject to
// the peer's send budget and direction.
//
// direction true = ascending global_time, false = descending, matching
// the priority ordering a privilege's sync policy can request.
func (d *Dispatcher) RunSyncTick(addr string, cid ids.CID, windowStart uint64, peerFilterHasCandidate func([]byte) bool, direction bool, facade *store.Facade, budget *peerBudget) (int, error) {
	c, ok := d.Community(cid)
	if !ok {
		return 0, fmt.Errorf("dispersy: sync tick: unknown community %x", cid)
	}

	windowEnd := windowStart + community.BloomStepping - 1
	candidates, err := collectCandidates(c, facade, windowStart, windowEnd)
	if err != nil {
		return 0, err
	}
	sortCandidates(candidates, direction)

	limiter := budget.forAddr(addr)
	sent := 0
	for _, cand := range candidates {
		if peerFilterHasCandidate(cand.Packet) {
			continue
		}
		if !limiter.Allow() {
			break
		}
		if err := d.transport.Send(addr, cand.Packet); err != nil {
			return sent, err
		}
		sent++
		if d.metrics != nil {
			d.metrics.SyncSentTotal.Inc()
		}
	}
	return sent, nil
}

func collectCandidates(c *community.Community, facade *store.Facade, start, end uint64) ([]SyncCandidate, error) {
	rows, err := facade.ListSyncByCommunity(c.DatabaseID)
	if err != nil {
		return nil, err
	}
	out := make([]SyncCandidate, 0, len(rows))
	for _, r := range rows {
		if r.GlobalTime < start || r.GlobalTime > end {
			continue
		}
		out = append(out, SyncCandidate{GlobalTime: r.GlobalTime, Packet: r.Packet})
	}
	return out, nil
}

func sortCandidates(c []SyncCandidate, ascending bool) {
	sort.Slice(c, func(i, j int) bool {
		if ascending {
			return c[i].GlobalTime < c[j].GlobalTime
		}
		return c[i].GlobalTime > c[j].GlobalTime
	})
}

// BroadcastSync advertises this node's current Bloom window to addr as
// a dispersy-sync message, the periodic half of the anti-entropy
// exchange.
func (d *Dispatcher) BroadcastSync(addr string, cid ids.CID, signer *member.Member) error {
	c, ok := d.Community(cid)
	if !ok {
		return fmt.Errorf("dispersy: broadcast sync: unknown community %x", cid)
	}
	start, filter := c.CurrentBloomWindow()
	payload := SyncPayload{WindowStart: start, Filter: filter.Serialize()}

	msg := &message.Message{
		CommunityID: cid,
		Distribution: message.Distribution{
			Kind:       message.DistDirect,
			GlobalTime: c.Timeline().ClaimGlobalTime(),
		},
		Destination: message.Destination{Kind: message.DestAddress, Addr: addr},
		Permission: message.Permission{
			Privilege: "dispersy-sync",
			Kind:      timeline.Permit,
			Payload:   payload.Encode(),
		},
	}
	return d.StoreAndForward([]*message.Message{msg}, signer)
}

// RequestMissingSequence sends a dispersy-missing-sequence request to
// addr asking for the given signer/privilege/range, the request half
// of the gap-filling exchange triggered by a community.SequenceGapError.
func (d *Dispatcher) RequestMissingSequence(cid ids.CID, addr string, payload MissingSequencePayload) error {
	c, ok := d.Community(cid)
	if !ok {
		return fmt.Errorf("dispersy: request missing sequence: unknown community %x", cid)
	}
	msg := &message.Message{
		CommunityID: cid,
		Distribution: message.Distribution{
			Kind:       message.DistDirect,
			GlobalTime: c.Timeline().ClaimGlobalTime(),
		},
		Destination: message.Destination{Kind: message.DestAddress, Addr: addr},
		Permission: message.Permission{
			Privilege: "dispersy-missing-sequence",
			Kind:      timeline.Permit,
			Payload:   payload.Encode(),
		},
	}
	return d.StoreAndForward([]*message.Message{msg}, c.MyMember)
}
