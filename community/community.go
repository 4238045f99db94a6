// Package community implements the Community component: lifecycle
// (create/join/load), message routing, and ownership of a Timeline,
// Bloom-filter windows, Conversions, and meta-messages for one overlay.
package community

import (
	"fmt"
	"sync"

	"github.com/dispersy-go/dispersy/bloom"
	"github.com/dispersy-go/dispersy/conversion"
	"github.com/dispersy-go/dispersy/errs"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/member"
	"github.com/dispersy-go/dispersy/message"
	"github.com/dispersy-go/dispersy/store"
	"github.com/dispersy-go/dispersy/timeline"
	"github.com/dispersy-go/dispersy/trigger"
)

// BloomStepping is the global-time span covered by one Bloom window.
// Window index = global_time / BloomStepping, matching
// Community.py's get_bloom_filter.
const BloomStepping = 100

// bloomCapacity and bloomFalsePositiveRate size each window's filter.
const (
	bloomCapacity          = 100
	bloomFalsePositiveRate = 0.01
)

// Community is one joined or owned overlay.
type Community struct {
	CID          ids.CID
	DatabaseID   uint64
	MasterMember *member.Member
	MyMember     *member.Member

	registry   *member.Registry
	facade     *store.Facade
	privileges map[string]Privilege
	timeline   *timeline.Timeline
	conv       *conversion.Conversion00001
	triggers   *trigger.Table

	mu    sync.Mutex
	bloom []*bloom.Filter
}

// Privileges returns the community's statically defined privilege table.
func (c *Community) Privileges() map[string]Privilege { return c.privileges }

// Timeline returns the community's permission ledger and global-time clock.
func (c *Community) Timeline() *timeline.Timeline { return c.timeline }

// Triggers returns the community's Trigger Table.
func (c *Community) Triggers() *trigger.Table { return c.triggers }

// Conversion returns the community's version-00001 wire codec.
func (c *Community) Conversion() *conversion.Conversion00001 { return c.conv }

// newCommunity wires up the shared construction path for
// CreateCommunity, JoinCommunity, and LoadCommunities.
func newCommunity(cid ids.CID, databaseID uint64, master, mine *member.Member, registry *member.Registry, facade *store.Facade, privileges []Privilege) (*Community, error) {
	table := make(map[string]Privilege, len(privileges)+1)
	hasSync := false
	for _, p := range privileges {
		if _, dup := table[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate privilege name %q", errs.ErrConfigError, p.Name)
		}
		table[p.Name] = p
		if p.Name == "dispersy-sync" {
			hasSync = true
		}
	}
	if !hasSync {
		return nil, fmt.Errorf("%w: missing required dispersy-sync privilege", errs.ErrConfigError)
	}

	publicNames := make([]string, 0, len(table))
	for name, p := range table {
		if p.Public {
			publicNames = append(publicNames, name)
		}
	}

	c := &Community{
		CID:          cid,
		DatabaseID:   databaseID,
		MasterMember: master,
		MyMember:     mine,
		registry:     registry,
		facade:       facade,
		privileges:   table,
		timeline:     timeline.New(master.MID(), publicNames),
		triggers:     trigger.New(),
	}
	c.conv = conversion.New(registry)
	return c, nil
}

// bloomWindow returns the Bloom filter covering globalTime, growing the
// sparse window list as needed.
func (c *Community) bloomWindow(globalTime uint64) *bloom.Filter {
	index := int(globalTime / BloomStepping)

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.bloom) <= index {
		c.bloom = append(c.bloom, bloom.New(bloomCapacity, bloomFalsePositiveRate))
	}
	return c.bloom[index]
}

// CurrentBloomWindow returns the global-time lower bound and filter of
// the most recently allocated window, used to advertise what this node
// has synced so far in a dispersy-sync broadcast.
func (c *Community) CurrentBloomWindow() (uint64, *bloom.Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bloom) == 0 {
		c.bloom = append(c.bloom, bloom.New(bloomCapacity, bloomFalsePositiveRate))
	}
	index := len(c.bloom) - 1
	return uint64(index)*BloomStepping + 1, c.bloom[index]
}

// MarkSynced records that packet has been persisted at globalTime, for
// anti-entropy Bloom-window membership. A saturation error is non-fatal:
// the window still functions, just with a higher false-positive rate.
func (c *Community) MarkSynced(globalTime uint64, packet []byte) {
	_ = c.bloomWindow(globalTime).Add(packet)
}

// HasSynced reports whether packet is (probably) already known, per the
// window covering globalTime.
func (c *Community) HasSynced(globalTime uint64, packet []byte) bool {
	return c.bloomWindow(globalTime).Contains(packet)
}

// Footprint builds the Trigger Table match string for msg:
// "<privilege-name>:<signer.mid-hex>:<global_time>:<sequence_number?>".
// The sequence number suffix is present only for FullSync messages,
// which are the only ones that carry one.
func Footprint(msg *message.Message) string {
	base := fmt.Sprintf("%s:%x:%d", msg.Permission.Privilege, msg.Signer, msg.Distribution.GlobalTime)
	if msg.Distribution.Kind == message.DistFullSync {
		return fmt.Sprintf("%s:%d", base, msg.Distribution.SequenceNumber)
	}
	return base
}
