package community

import "github.com/dispersy-go/dispersy/message"

// Privilege is a statically defined capability of a community: a unique
// name, its distribution and destination policy, and whether it is
// public (usable without authorization) or restricted. Every community
// carries the well-known "dispersy-sync" privilege plus whatever the
// concrete community kind adds.
type Privilege struct {
	Name         string
	Distribution message.DistributionKind
	Destination  message.DestinationKind
	Public       bool

	// Static distribution parameters, not carried on the wire (see
	// conversion package doc). HistorySize bounds how many LastSync rows
	// persist keeps per signer (0 means unbounded); Capacity and
	// ErrorRate are not read by any package.
	Capacity    uint64
	HistorySize uint64
	ErrorRate   float64
}

// DispersySyncPrivilege is the well-known, always-present privilege:
// community-wide, direct (single-shot, not persisted), public.
func DispersySyncPrivilege() Privilege {
	return Privilege{
		Name:         "dispersy-sync",
		Distribution: message.DistDirect,
		Destination:  message.DestCommunity,
		Public:       true,
	}
}

// DispersyMissingSequencePrivilege requests a range of missing
// sequence-numbered messages from a signer, unicast to the peer that
// can supply them.
func DispersyMissingSequencePrivilege() Privilege {
	return Privilege{
		Name:         "dispersy-missing-sequence",
		Distribution: message.DistDirect,
		Destination:  message.DestAddress,
		Public:       true,
	}
}
