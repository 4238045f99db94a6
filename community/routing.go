package community

import (
	"errors"
	"fmt"

	"github.com/dispersy-go/dispersy/errs"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/message"
	"github.com/dispersy-go/dispersy/store"
	"github.com/dispersy-go/dispersy/timeline"
)

// SequenceGapError reports a FullSync sequence-number gap, carrying
// everything the dispatcher needs to build a dispersy-missing-sequence
// request without reparsing an error string.
type SequenceGapError struct {
	Signer      ids.MID
	Privilege   string
	MissingLow  uint64
	MissingHigh uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap for %x on %q: missing [%d,%d]", e.Signer, e.Privilege, e.MissingLow, e.MissingHigh)
}

func (e *SequenceGapError) Unwrap() error { return errs.ErrDelayMessage }

// Handler is an application-level callback for a Permit message on one
// privilege, invoked once admission has been granted.
type Handler func(addr string, msg *message.Message) error

// OnIncomingMessage routes one already-signature-verified message:
// admission check, dispatch by permission kind, persistence, and
// trigger feed.
func (c *Community) OnIncomingMessage(addr string, msg *message.Message, handlers map[string]Handler) error {
	allowed, _, err := c.timeline.Check(msg.Signer, msg.Permission.Privilege, msg.Permission.Kind, msg.Distribution.GlobalTime)
	if err != nil {
		if errors.Is(err, errs.ErrDelayMessageByProof) {
			return err
		}
		return fmt.Errorf("%w: %v", errs.ErrDropPacket, err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s denied for signer %x", errs.ErrDropPacket, msg.Permission.Privilege, msg.Signer)
	}

	switch msg.Permission.Kind {
	case timeline.Authorize:
		c.timeline.Update(timeline.Fact{
			Signer: msg.Permission.To, Privilege: msg.Permission.Privilege, Kind: kindFromName(msg.Permission.PermissionName),
			GlobalTime: msg.Distribution.GlobalTime, Grant: true, CausingMessage: msg.Encoded,
		})
	case timeline.Revoke:
		c.timeline.Update(timeline.Fact{
			Signer: msg.Permission.To, Privilege: msg.Permission.Privilege, Kind: kindFromName(msg.Permission.PermissionName),
			GlobalTime: msg.Distribution.GlobalTime, Grant: false, CausingMessage: msg.Encoded,
		})
	case timeline.Permit:
		if h, ok := handlers[msg.Permission.Privilege]; ok {
			if err := h(addr, msg); err != nil {
				return err
			}
		}
	}

	if msg.Persisted() {
		if err := c.persist(msg); err != nil {
			return err
		}
		c.MarkSynced(msg.Distribution.GlobalTime, msg.Encoded)
	}

	c.triggers.OnMessage(addr, Footprint(msg))
	return nil
}

// kindFromName maps the permission_name wire field ("permit",
// "authorize", "revoke") back to a timeline.Kind for the fact being
// granted or revoked.
func kindFromName(name string) timeline.Kind {
	switch name {
	case "authorize":
		return timeline.Authorize
	case "revoke":
		return timeline.Revoke
	default:
		return timeline.Permit
	}
}

// persist stores msg per its distribution policy: FullSync rows are
// keyed by (signer, privilege, sequence_number) with gap detection;
// LastSync rows are bounded to history_size, oldest-first eviction.
func (c *Community) persist(msg *message.Message) error {
	priv := c.privileges[msg.Permission.Privilege]

	switch msg.Distribution.Kind {
	case message.DistFullSync:
		existing, err := c.facade.ListSync(c.DatabaseID, msg.Signer, msg.Permission.Privilege)
		if err != nil {
			return err
		}
		maxSeen := uint64(0)
		for _, row := range existing {
			if row.SequenceNo == msg.Distribution.SequenceNumber {
				return nil // duplicate, drop silently
			}
			if row.SequenceNo > maxSeen {
				maxSeen = row.SequenceNo
			}
		}
		if msg.Distribution.SequenceNumber > maxSeen+1 {
			return &SequenceGapError{
				Signer:      msg.Signer,
				Privilege:   msg.Permission.Privilege,
				MissingLow:  maxSeen + 1,
				MissingHigh: msg.Distribution.SequenceNumber - 1,
			}
		}
		return c.facade.Tx(func(txn *store.Txn) error {
			return txn.PutSync(store.SyncRow{
				CommunityID: c.DatabaseID, Signer: msg.Signer, Privilege: msg.Permission.Privilege,
				GlobalTime: msg.Distribution.GlobalTime, SequenceNo: msg.Distribution.SequenceNumber, Packet: msg.Encoded,
			})
		})

	case message.DistLastSync:
		existing, err := c.facade.ListSync(c.DatabaseID, msg.Signer, msg.Permission.Privilege)
		if err != nil {
			return err
		}
		if uint64(len(existing)) >= priv.HistorySize && priv.HistorySize > 0 && len(existing) > 0 && msg.Distribution.GlobalTime < existing[0].GlobalTime {
			return nil // older than the kept minimum, drop
		}
		return c.facade.Tx(func(txn *store.Txn) error {
			if err := txn.PutSync(store.SyncRow{
				CommunityID: c.DatabaseID, Signer: msg.Signer, Privilege: msg.Permission.Privilege,
				GlobalTime: msg.Distribution.GlobalTime, Packet: msg.Encoded,
			}); err != nil {
				return err
			}
			if priv.HistorySize == 0 {
				return nil
			}
			all := append(existing, store.SyncRow{GlobalTime: msg.Distribution.GlobalTime})
			for uint64(len(all)) > priv.HistorySize {
				oldest := all[0]
				all = all[1:]
				if err := txn.DeleteSync(c.DatabaseID, msg.Signer, msg.Permission.Privilege, oldest.GlobalTime, oldest.SequenceNo); err != nil {
					return err
				}
			}
			return nil
		})

	default:
		return nil
	}
}
