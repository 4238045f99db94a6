// Package trigger implements the Trigger Table: match-based callbacks
// for delayed packets and messages, with deadlines. A regular expression
// is matched against an incoming message's "footprint" string, and a
// registered action fires on match or on timeout; OnMessage returns
// whether to keep the trigger registered, OnTimeout fires once and the
// trigger is then dropped.
package trigger

import (
	"regexp"
	"sync"
	"time"
)

// Trigger is the interface satisfied by every registered waiter.
// OnMessage returns true to keep the trigger registered (it may still
// be waiting for more matches, as TriggerCallback does until its
// max-responses budget is spent).
type Trigger interface {
	OnMessage(addr string, footprint string) (keep bool)
	OnTimeout()
}

// CallbackFunc is invoked by a CallbackTrigger on each match, and once
// more with addr="" on timeout if its response budget was not spent.
type CallbackFunc func(addr string, footprint string)

// CallbackTrigger fires response on every matching message until
// maxResponses calls have been made, then removes itself.
type CallbackTrigger struct {
	match         *regexp.Regexp
	response      CallbackFunc
	responsesLeft int
}

// NewCallbackTrigger builds a CallbackTrigger matching pattern.
func NewCallbackTrigger(pattern string, maxResponses int, response CallbackFunc) (*CallbackTrigger, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &CallbackTrigger{match: re, response: response, responsesLeft: maxResponses}, nil
}

func (c *CallbackTrigger) OnMessage(addr, footprint string) bool {
	if c.responsesLeft <= 0 || !c.match.MatchString(footprint) {
		return c.responsesLeft > 0
	}
	c.responsesLeft--
	c.response(addr, footprint)
	return c.responsesLeft > 0
}

func (c *CallbackTrigger) OnTimeout() {
	if c.responsesLeft > 0 {
		c.responsesLeft = 0
		c.response("", "")
	}
}

// PacketFunc is invoked with the buffered packets once a PacketTrigger's
// pattern matches.
type PacketFunc func(packets []DelayedPacket)

// DelayedPacket is one packet held behind a PacketTrigger.
type DelayedPacket struct {
	Addr   string
	Packet []byte
}

// PacketTrigger releases a batch of previously-received raw packets once
// a matching message arrives (e.g. a dispersy-missing-sequence request
// unblocked by the sequence finally closing).
type PacketTrigger struct {
	match   *regexp.Regexp
	release PacketFunc
	packets []DelayedPacket
}

// NewPacketTrigger builds a PacketTrigger matching pattern, holding packets.
func NewPacketTrigger(pattern string, packets []DelayedPacket, release PacketFunc) (*PacketTrigger, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &PacketTrigger{match: re, release: release, packets: packets}, nil
}

func (p *PacketTrigger) OnMessage(_ string, footprint string) bool {
	if !p.match.MatchString(footprint) {
		return true
	}
	p.release(p.packets)
	return false
}

func (p *PacketTrigger) OnTimeout() {}

// entry pairs a registered Trigger with its expiry deadline.
type entry struct {
	t        Trigger
	deadline time.Time
}

// Table is the Trigger Table: an ordered list of active triggers,
// matched against every successfully processed message's footprint,
// and swept for expiry by Tick.
type Table struct {
	mu      sync.Mutex
	entries []entry
}

// New creates an empty Trigger Table.
func New() *Table {
	return &Table{}
}

// Add registers t with the given absolute deadline.
func (tb *Table) Add(t Trigger, deadline time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.entries = append(tb.entries, entry{t: t, deadline: deadline})
}

// OnMessage feeds a successfully processed message's footprint to every
// registered trigger, in registration order, dropping any that return
// false (fully satisfied).
func (tb *Table) OnMessage(addr, footprint string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	kept := tb.entries[:0]
	for _, e := range tb.entries {
		if e.t.OnMessage(addr, footprint) {
			kept = append(kept, e)
		}
	}
	tb.entries = kept
}

// Tick expires every trigger whose deadline is at or before now, firing
// OnTimeout and removing it. Any delayed packet/message that outlives
// its Trigger is dropped.
func (tb *Table) Tick(now time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	kept := tb.entries[:0]
	for _, e := range tb.entries {
		if now.Before(e.deadline) {
			kept = append(kept, e)
			continue
		}
		e.t.OnTimeout()
	}
	tb.entries = kept
}

// Len reports the number of active triggers, for diagnostics/metrics.
func (tb *Table) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.entries)
}
