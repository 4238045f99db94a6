// Package conversion implements the wire codec: cid || vid ||
// encoded-container || signature. It turns a message.Message into bytes
// ready for the transport and back.
//
// Each community holds a single Conversion00001, built atop codec's
// tagged Value format for the container itself; there is no table of
// other versions, and a packet with any other version tag is dropped. Distribution
// policy constants (capacity, history_size, error_rate) are privilege-
// level static configuration, not wire fields — the wire only carries
// what can vary per message (global_time, sequence_number).
package conversion

import (
	"fmt"

	"github.com/dispersy-go/dispersy/codec"
	"github.com/dispersy-go/dispersy/crypto"
	"github.com/dispersy-go/dispersy/errs"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/member"
	"github.com/dispersy-go/dispersy/message"
	"github.com/dispersy-go/dispersy/timeline"
)

// VID is the version tag for this wire layout, always 5 ASCII bytes.
const VID = "00001"

// Conversion00001 is the version-00001 wire codec for one community.
type Conversion00001 struct {
	registry *member.Registry
}

// New returns the version-00001 Conversion bound to a Member Registry,
// used to resolve compact MID-only signer/recipient references.
func New(registry *member.Registry) *Conversion00001 {
	return &Conversion00001{registry: registry}
}

// Encode assembles the wire packet for msg, signing it with signer.
func (c *Conversion00001) Encode(msg *message.Message, signer *member.Member) ([]byte, error) {
	container := encodeContainer(msg, signer)
	body := codec.Encode(container)

	head := make([]byte, 0, ids.Size+len(VID)+len(body))
	head = append(head, msg.CommunityID.Bytes()...)
	head = append(head, []byte(VID)...)
	head = append(head, body...)

	sig, err := signer.Sign(head)
	if err != nil {
		return nil, fmt.Errorf("conversion: sign: %w", err)
	}
	return append(head, sig...), nil
}

// Decode parses a wire packet into a Message. It returns an error
// wrapping errs.ErrDropPacket for fatal malformation and
// errs.ErrDelayPacket when decoding is merely blocked on external
// information (an unresolved MID-only signer or recipient reference).
func (c *Conversion00001) Decode(packet []byte) (*message.Message, error) {
	if len(packet) < ids.Size+len(VID) {
		return nil, fmt.Errorf("%w: packet shorter than header", errs.ErrDropPacket)
	}
	cid := ids.CIDFromBytes(packet[:ids.Size])
	vid := string(packet[ids.Size : ids.Size+len(VID)])
	if vid != VID {
		return nil, fmt.Errorf("%w: unknown version tag %q", errs.ErrDropPacket, vid)
	}

	rest := packet[ids.Size+len(VID):]
	containerValue, consumed, err := codec.DecodePrefix(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDropPacket, err)
	}
	signed := packet[:ids.Size+len(VID)+consumed]
	sig := rest[consumed:]
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: missing signature", errs.ErrDropPacket)
	}

	signedByField, ok := containerValue.Get("signed_by")
	if !ok || signedByField.Kind != codec.KindBytes {
		return nil, fmt.Errorf("%w: missing or malformed signed_by", errs.ErrDropPacket)
	}
	signer, err := c.resolveMember(signedByField.B)
	if err != nil {
		return nil, err
	}

	ok, err = crypto.Verify(signer.PublicBlob(), signed, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDropPacket, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: signature verification failed", errs.ErrDropPacket)
	}

	dist, err := decodeDistribution(containerValue)
	if err != nil {
		return nil, err
	}
	dest, err := decodeDestination(containerValue)
	if err != nil {
		return nil, err
	}
	perm, err := c.decodePermission(containerValue)
	if err != nil {
		return nil, err
	}

	return &message.Message{
		CommunityID:  cid,
		Signer:       signer.MID(),
		Distribution: dist,
		Destination:  dest,
		Permission:   perm,
		Encoded:      append([]byte(nil), packet...),
		Signature:    append([]byte(nil), sig...),
	}, nil
}

// resolveMember accepts either a full public key blob or a bare 20-byte
// MID reference (the compact steady-state form). A MID reference that
// is not yet interned yields errs.ErrDelayPacket, asking the caller to
// request the member's public key before retrying.
func (c *Conversion00001) resolveMember(blob []byte) (*member.Member, error) {
	if len(blob) == ids.Size {
		mid := ids.MIDFromBytes(blob)
		if m, ok := c.registry.Lookup(mid); ok {
			return m, nil
		}
		return nil, fmt.Errorf("%w: unknown signer %x", errs.ErrDelayPacket, mid)
	}
	return c.registry.GetOrIntern(blob), nil
}

func encodeContainer(msg *message.Message, signer *member.Member) codec.Value {
	return codec.Map(
		codec.Entry{Key: "signed_by", Value: codec.Bytes(signer.PublicBlob())},
		codec.Entry{Key: "destination", Value: encodeDestination(msg.Destination)},
		codec.Entry{Key: "distribution", Value: encodeDistribution(msg.Distribution)},
		codec.Entry{Key: "permission", Value: encodePermission(msg.Permission)},
	)
}

func encodeDistribution(d message.Distribution) codec.Value {
	switch d.Kind {
	case message.DistFullSync:
		return codec.Map(
			codec.Entry{Key: "kind", Value: codec.Text("full_sync")},
			codec.Entry{Key: "global_time", Value: codec.Uint(d.GlobalTime)},
			codec.Entry{Key: "sequence_number", Value: codec.Uint(d.SequenceNumber)},
		)
	case message.DistLastSync:
		return codec.Map(
			codec.Entry{Key: "kind", Value: codec.Text("last_sync")},
			codec.Entry{Key: "global_time", Value: codec.Uint(d.GlobalTime)},
		)
	case message.DistDirect:
		return codec.Map(
			codec.Entry{Key: "kind", Value: codec.Text("direct")},
			codec.Entry{Key: "global_time", Value: codec.Uint(d.GlobalTime)},
		)
	default: // DistRelay
		return codec.Map(codec.Entry{Key: "kind", Value: codec.Text("relay")})
	}
}

func decodeDistribution(container codec.Value) (message.Distribution, error) {
	field, ok := container.Get("distribution")
	if !ok || field.Kind != codec.KindMap {
		return message.Distribution{}, fmt.Errorf("%w: missing or malformed distribution", errs.ErrDropPacket)
	}
	kindField, ok := field.Get("kind")
	if !ok || kindField.Kind != codec.KindText {
		return message.Distribution{}, fmt.Errorf("%w: missing distribution kind", errs.ErrDropPacket)
	}

	switch kindField.S {
	case "full_sync":
		gt, seq, err := globalTimeAndSequence(field, true)
		if err != nil {
			return message.Distribution{}, err
		}
		return message.Distribution{Kind: message.DistFullSync, GlobalTime: gt, SequenceNumber: seq}, nil
	case "last_sync":
		gt, _, err := globalTimeAndSequence(field, false)
		if err != nil {
			return message.Distribution{}, err
		}
		return message.Distribution{Kind: message.DistLastSync, GlobalTime: gt}, nil
	case "direct":
		gt, _, err := globalTimeAndSequence(field, false)
		if err != nil {
			return message.Distribution{}, err
		}
		return message.Distribution{Kind: message.DistDirect, GlobalTime: gt}, nil
	case "relay":
		return message.Distribution{Kind: message.DistRelay}, nil
	default:
		return message.Distribution{}, fmt.Errorf("%w: unknown distribution kind %q", errs.ErrDropPacket, kindField.S)
	}
}

func globalTimeAndSequence(field codec.Value, wantSequence bool) (uint64, uint64, error) {
	gtField, ok := field.Get("global_time")
	if !ok || gtField.Kind != codec.KindUint || gtField.U == 0 {
		return 0, 0, fmt.Errorf("%w: missing or non-positive global_time", errs.ErrDropPacket)
	}
	if !wantSequence {
		return gtField.U, 0, nil
	}
	seqField, ok := field.Get("sequence_number")
	if !ok || seqField.Kind != codec.KindUint || seqField.U == 0 {
		return 0, 0, fmt.Errorf("%w: missing or non-positive sequence_number", errs.ErrDropPacket)
	}
	return gtField.U, seqField.U, nil
}

func encodeDestination(d message.Destination) codec.Value {
	switch d.Kind {
	case message.DestAddress:
		return codec.Map(
			codec.Entry{Key: "kind", Value: codec.Text("address")},
			codec.Entry{Key: "addr", Value: codec.Text(d.Addr)},
		)
	case message.DestMember:
		members := make([]codec.Value, len(d.Members))
		for i, mid := range d.Members {
			members[i] = codec.Bytes(mid.Bytes())
		}
		return codec.Map(
			codec.Entry{Key: "kind", Value: codec.Text("member")},
			codec.Entry{Key: "members", Value: codec.List(members...)},
		)
	default: // DestCommunity
		return codec.Map(codec.Entry{Key: "kind", Value: codec.Text("community")})
	}
}

func decodeDestination(container codec.Value) (message.Destination, error) {
	field, ok := container.Get("destination")
	if !ok || field.Kind != codec.KindMap {
		return message.Destination{}, fmt.Errorf("%w: missing or malformed destination", errs.ErrDropPacket)
	}
	kindField, ok := field.Get("kind")
	if !ok || kindField.Kind != codec.KindText {
		return message.Destination{}, fmt.Errorf("%w: missing destination kind", errs.ErrDropPacket)
	}

	switch kindField.S {
	case "community":
		return message.Destination{Kind: message.DestCommunity}, nil
	case "address":
		addrField, ok := field.Get("addr")
		if !ok || addrField.Kind != codec.KindText {
			return message.Destination{}, fmt.Errorf("%w: missing address destination addr", errs.ErrDropPacket)
		}
		return message.Destination{Kind: message.DestAddress, Addr: addrField.S}, nil
	case "member":
		membersField, ok := field.Get("members")
		if !ok || membersField.Kind != codec.KindList {
			return message.Destination{}, fmt.Errorf("%w: missing member destination list", errs.ErrDropPacket)
		}
		mids := make([]ids.MID, len(membersField.List))
		for i, v := range membersField.List {
			if v.Kind != codec.KindBytes || len(v.B) != ids.Size {
				return message.Destination{}, fmt.Errorf("%w: malformed member destination entry", errs.ErrDropPacket)
			}
			mids[i] = ids.MIDFromBytes(v.B)
		}
		return message.Destination{Kind: message.DestMember, Members: mids}, nil
	default:
		return message.Destination{}, fmt.Errorf("%w: unknown destination kind %q", errs.ErrDropPacket, kindField.S)
	}
}

func encodePermission(p message.Permission) codec.Value {
	switch p.Kind {
	case timeline.Authorize, timeline.Revoke:
		kindText := "authorize"
		if p.Kind == timeline.Revoke {
			kindText = "revoke"
		}
		return codec.Map(
			codec.Entry{Key: "privilege", Value: codec.Text(p.Privilege)},
			codec.Entry{Key: "kind", Value: codec.Text(kindText)},
			codec.Entry{Key: "to", Value: codec.Bytes(p.To.Bytes())},
			codec.Entry{Key: "permission_name", Value: codec.Text(p.PermissionName)},
		)
	default: // Permit
		return codec.Map(
			codec.Entry{Key: "privilege", Value: codec.Text(p.Privilege)},
			codec.Entry{Key: "kind", Value: codec.Text("permit")},
			codec.Entry{Key: "payload", Value: codec.Bytes(p.Payload)},
		)
	}
}

func (c *Conversion00001) decodePermission(container codec.Value) (message.Permission, error) {
	field, ok := container.Get("permission")
	if !ok || field.Kind != codec.KindMap {
		return message.Permission{}, fmt.Errorf("%w: missing or malformed permission", errs.ErrDropPacket)
	}
	privField, ok := field.Get("privilege")
	if !ok || privField.Kind != codec.KindText {
		return message.Permission{}, fmt.Errorf("%w: missing permission privilege", errs.ErrDropPacket)
	}
	kindField, ok := field.Get("kind")
	if !ok || kindField.Kind != codec.KindText {
		return message.Permission{}, fmt.Errorf("%w: missing permission kind", errs.ErrDropPacket)
	}

	switch kindField.S {
	case "permit":
		payloadField, ok := field.Get("payload")
		if !ok || payloadField.Kind != codec.KindBytes {
			return message.Permission{}, fmt.Errorf("%w: missing permit payload", errs.ErrDropPacket)
		}
		return message.Permission{Privilege: privField.S, Kind: timeline.Permit, Payload: payloadField.B}, nil

	case "authorize", "revoke":
		toField, ok := field.Get("to")
		if !ok || toField.Kind != codec.KindBytes || len(toField.B) != ids.Size {
			return message.Permission{}, fmt.Errorf("%w: missing or malformed 'to' member reference", errs.ErrDropPacket)
		}
		nameField, ok := field.Get("permission_name")
		if !ok || nameField.Kind != codec.KindText {
			return message.Permission{}, fmt.Errorf("%w: missing permission_name", errs.ErrDropPacket)
		}
		to := ids.MIDFromBytes(toField.B)
		if _, known := c.registry.Lookup(to); !known {
			return message.Permission{}, fmt.Errorf("%w: unknown 'to' member %x in %s", errs.ErrDelayPacket, to, kindField.S)
		}
		kind := timeline.Authorize
		if kindField.S == "revoke" {
			kind = timeline.Revoke
		}
		return message.Permission{Privilege: privField.S, Kind: kind, To: to, PermissionName: nameField.S}, nil

	default:
		return message.Permission{}, fmt.Errorf("%w: unknown permission kind %q", errs.ErrDropPacket, kindField.S)
	}
}
