// Package dispersy implements the Dispersy dispatcher: the process-wide
// hub that parses incoming packets, dispatches them to the owning
// community by 20-byte cid prefix, persists and forwards outgoing
// messages, and runs the sync exchange. Ticking each community's Trigger
// Table is left to the caller (dispersyd's sync-tick service). It is a
// singleton holding a cid->Community map plus an on_incoming_packet
// entry point.
package dispersy

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/dispersy-go/dispersy/community"
	"github.com/dispersy-go/dispersy/errs"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/log"
	"github.com/dispersy-go/dispersy/member"
	"github.com/dispersy-go/dispersy/message"
	"github.com/dispersy-go/dispersy/metrics"
	"github.com/dispersy-go/dispersy/store"
	"github.com/dispersy-go/dispersy/trigger"
)

// Transport is the minimal collaborator the dispatcher needs from the
// (out-of-scope) network layer: send one packet to one address.
type Transport interface {
	Send(addr string, packet []byte) error
}

// Dispatcher is the process-wide dispersy singleton.
type Dispatcher struct {
	mu          sync.Mutex
	communities map[ids.CID]*community.Community
	handlers    map[ids.CID]map[string]community.Handler

	registry  *member.Registry
	facade    *store.Facade
	transport Transport
	metrics   *metrics.Metrics
	logger    *log.Logger
}

// New creates a Dispatcher bound to the given Member Registry, Database
// Facade, Transport, and metrics set.
func New(registry *member.Registry, facade *store.Facade, transport Transport, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		communities: make(map[ids.CID]*community.Community),
		handlers:    make(map[ids.CID]map[string]community.Handler),
		registry:    registry,
		facade:      facade,
		transport:   transport,
		metrics:     m,
		logger:      log.Default().Module("dispersy"),
	}
}

// AddCommunity registers c with the dispatcher, making it reachable by
// incoming packets whose cid prefix matches.
func (d *Dispatcher) AddCommunity(c *community.Community, handlers map[string]community.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	merged := make(map[string]community.Handler, len(handlers)+1)
	for name, h := range handlers {
		merged[name] = h
	}
	if _, ok := merged["dispersy-missing-sequence"]; !ok {
		merged["dispersy-missing-sequence"] = d.handleMissingSequence
	}
	d.communities[c.CID] = c
	d.handlers[c.CID] = merged
}

// handleMissingSequence is the built-in dispersy-missing-sequence
// handler: it answers a request by resending every stored message from
// the requested signer/privilege whose sequence number falls in range.
func (d *Dispatcher) handleMissingSequence(addr string, msg *message.Message) error {
	payload, err := DecodeMissingSequencePayload(msg.Permission.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDropPacket, err)
	}
	c, ok := d.Community(msg.CommunityID)
	if !ok {
		return fmt.Errorf("dispersy: missing-sequence handler: unknown community %x", msg.CommunityID)
	}
	rows, err := d.facade.ListSync(c.DatabaseID, payload.Member, payload.Privilege)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.SequenceNo < payload.MissingLow || row.SequenceNo > payload.MissingHigh {
			continue
		}
		if err := d.transport.Send(addr, row.Packet); err != nil {
			return err
		}
	}
	return nil
}

// Community looks up a registered community by id.
func (d *Dispatcher) Community(cid ids.CID) (*community.Community, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.communities[cid]
	return c, ok
}

// OnIncomingPacket parses packet's cid prefix, routes it to the owning
// community's Conversion, and runs the community's message routing.
// DropPacket errors are counted and discarded; DelayPacket/DelayMessage/
// DelayMessageByProof errors register a Trigger waiting on the missing
// information.
func (d *Dispatcher) OnIncomingPacket(addr string, packet []byte) error {
	if len(packet) < ids.Size {
		d.countDrop("short_packet")
		return fmt.Errorf("%w: packet shorter than cid", errs.ErrDropPacket)
	}
	cid := ids.CIDFromBytes(packet[:ids.Size])

	c, ok := d.Community(cid)
	if !ok {
		d.countDrop("unknown_community")
		return fmt.Errorf("%w: unknown community %x", errs.ErrDropPacket, cid)
	}

	msg, err := c.Conversion().Decode(packet)
	if err != nil {
		return d.handleDecodeError(addr, cid, packet, err)
	}

	d.mu.Lock()
	handlers := d.handlers[cid]
	d.mu.Unlock()

	if err := c.OnIncomingMessage(addr, msg, handlers); err != nil {
		return d.handleRoutingError(addr, cid, msg, err)
	}
	if d.metrics != nil {
		d.metrics.GlobalTime.WithLabelValues(cid.String()).Set(float64(msg.Distribution.GlobalTime))
	}
	return nil
}

func (d *Dispatcher) handleDecodeError(addr string, cid ids.CID, packet []byte, err error) error {
	switch {
	case errors.Is(err, errs.ErrDelayPacket):
		d.delayPacket(addr, cid, packet, err)
		return err
	case errors.Is(err, errs.ErrDropPacket):
		d.countDrop("decode")
		return err
	default:
		d.countDrop("decode_unexpected")
		return err
	}
}

func (d *Dispatcher) handleRoutingError(addr string, cid ids.CID, msg *message.Message, err error) error {
	switch {
	case errors.Is(err, errs.ErrDelayMessageByProof):
		d.delayMessage(addr, cid, msg, err, "delay_message_by_proof")
		return err
	case errors.Is(err, errs.ErrDelayMessage):
		d.delayMessage(addr, cid, msg, err, "delay_message")
		var gap *community.SequenceGapError
		if errors.As(err, &gap) {
			payload := MissingSequencePayload{
				Member: gap.Signer, Privilege: gap.Privilege,
				MissingLow: gap.MissingLow, MissingHigh: gap.MissingHigh,
			}
			if rerr := d.RequestMissingSequence(cid, addr, payload); rerr != nil {
				d.logger.Warn("failed to request missing sequence", "community", cid.String(), "err", rerr)
			}
		}
		return err
	case errors.Is(err, errs.ErrDropPacket):
		d.countDrop("routing")
		return err
	default:
		return err
	}
}

// delayPacket holds a raw packet on the owning community's Trigger
// Table until the next message is applied in that community (the
// pattern matches any footprint) or the deadline fires.
func (d *Dispatcher) delayPacket(addr string, cid ids.CID, packet []byte, cause error) {
	c, ok := d.Community(cid)
	if !ok {
		return
	}
	d.countDelay("delay_packet")
	pt, err := trigger.NewPacketTrigger(".*", []trigger.DelayedPacket{{Addr: addr, Packet: packet}}, func(ps []trigger.DelayedPacket) {
		for _, p := range ps {
			_ = d.OnIncomingPacket(p.Addr, p.Packet)
		}
	})
	if err != nil {
		d.logger.Warn("failed to register delay-packet trigger", "community", cid.String(), "err", err)
		return
	}
	c.Triggers().Add(pt, time.Now().Add(defaultTriggerDeadline))
	d.logger.Debug("delaying packet", "community", cid.String(), "cause", cause)
}

// delayMessage re-enqueues msg behind a Trigger waiting on the
// privilege/signer/global_time footprint that would unblock it.
func (d *Dispatcher) delayMessage(addr string, cid ids.CID, msg *message.Message, cause error, kind string) {
	c, ok := d.Community(cid)
	if !ok {
		return
	}
	d.countDelay(kind)
	pattern := community.Footprint(msg)
	ct, err := trigger.NewCallbackTrigger(regexp.QuoteMeta(pattern), 1, func(a, footprint string) {
		_ = c.OnIncomingMessage(addr, msg, d.handlersFor(cid))
	})
	if err != nil {
		d.logger.Warn("failed to register delay-message trigger", "community", cid.String(), "err", err)
		return
	}
	c.Triggers().Add(ct, time.Now().Add(defaultTriggerDeadline))
	d.logger.Debug("delaying message", "community", cid.String(), "cause", cause)
}

func (d *Dispatcher) handlersFor(cid ids.CID) map[string]community.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[cid]
}

const defaultTriggerDeadline = 30 * time.Second

func (d *Dispatcher) countDrop(reason string) {
	if d.metrics != nil {
		d.metrics.DropPacketTotal.WithLabelValues(reason).Inc()
	}
}

func (d *Dispatcher) countDelay(kind string) {
	if d.metrics != nil {
		d.metrics.DelayMessageTotal.WithLabelValues(kind).Inc()
	}
}
