package community

import (
	"fmt"

	"github.com/dispersy-go/dispersy/crypto"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/member"
	"github.com/dispersy-go/dispersy/store"
	"github.com/dispersy-go/dispersy/timeline"
)

// CreateCommunity generates a fresh master keypair, persists the
// community/user/key rows and a routing bootstrap copy in one
// transaction, and grants myMember every permission on every
// non-public privilege — the community's own creator is its first
// authority, matching Community.py's create_community.
func CreateCommunity(facade *store.Facade, registry *member.Registry, myMember *member.Member, privileges []Privilege) (*Community, error) {
	masterKeys, err := crypto.GenerateKeypair(crypto.DefaultKeyBits)
	if err != nil {
		return nil, fmt.Errorf("community: generate master key: %w", err)
	}
	masterBlob := masterKeys.ToPublicBlob()
	cid := ids.CommunityID(masterBlob)
	master := registry.GetOrIntern(masterBlob)

	var databaseID uint64
	err = facade.Tx(func(txn *store.Txn) error {
		userID, err := txn.InsertUser(myMember.MID(), myMember.PublicBlob())
		if err != nil {
			return err
		}
		databaseID, err = txn.InsertCommunity(userID, cid, masterBlob)
		if err != nil {
			return err
		}
		if _, err := txn.InsertKey(masterBlob, masterKeys.ToPrivateBlob()); err != nil {
			return err
		}
		return txn.CopyRoutingTemplate(0, databaseID, func() ([]store.RoutingRow, error) {
			return facade.ListRouting(0)
		})
	})
	if err != nil {
		return nil, err
	}

	c, err := newCommunity(cid, databaseID, master, myMember, registry, facade, privileges)
	if err != nil {
		return nil, err
	}

	for name, p := range c.privileges {
		if p.Public {
			continue
		}
		for _, kind := range []timeline.Kind{timeline.Authorize, timeline.Revoke, timeline.Permit} {
			c.timeline.Update(timeline.Fact{
				Signer: myMember.MID(), Privilege: name, Kind: kind,
				GlobalTime: 0, Grant: true, CausingMessage: nil,
			})
		}
	}
	return c, nil
}

// JoinCommunity registers a discovered community (by its master's
// public blob) and constructs the local instance. No permissions are
// granted; they are learned from the wire as Authorize messages arrive.
func JoinCommunity(facade *store.Facade, registry *member.Registry, masterBlob []byte, myMember *member.Member, privileges []Privilege) (*Community, error) {
	cid := ids.CommunityID(masterBlob)
	master := registry.GetOrIntern(masterBlob)

	var databaseID uint64
	err := facade.Tx(func(txn *store.Txn) error {
		userID, err := txn.InsertUser(myMember.MID(), myMember.PublicBlob())
		if err != nil {
			return err
		}
		databaseID, err = txn.InsertCommunity(userID, cid, masterBlob)
		return err
	})
	if err != nil {
		return nil, err
	}

	return newCommunity(cid, databaseID, master, myMember, registry, facade, privileges)
}

// PrivilegeSetFor resolves the static privilege table for a persisted
// community row during LoadCommunities. Real deployments carry more
// than one community kind; the caller supplies the mapping from
// community id to that kind's privileges.
type PrivilegeSetFor func(cid ids.CID) []Privilege

// LoadCommunities enumerates every persisted community row and
// reconstructs its Community instance, resolving each one's privilege
// set via privilegesFor and seeding the local member's sequence cursor
// from the highest sequence number stored for it.
func LoadCommunities(facade *store.Facade, registry *member.Registry, privilegesFor PrivilegeSetFor) ([]*Community, error) {
	rows, err := facade.ListCommunities()
	if err != nil {
		return nil, err
	}

	communities := make([]*Community, 0, len(rows))
	for _, row := range rows {
		master := registry.GetOrIntern(row.MasterBlob)

		userRow, err := facade.GetUser(row.UserID)
		if err != nil {
			return nil, fmt.Errorf("community: load user for community %d: %w", row.ID, err)
		}
		mine := registry.GetOrIntern(userRow.Blob)

		privileges := privilegesFor(row.CID)
		for _, p := range privileges {
			synced, err := facade.ListSync(row.ID, mine.MID(), p.Name)
			if err != nil {
				return nil, fmt.Errorf("community: load sequence numbers for community %d: %w", row.ID, err)
			}
			for _, s := range synced {
				mine.SeedSequenceNumber(row.CID, s.SequenceNo)
			}
		}

		c, err := newCommunity(row.CID, row.ID, master, mine, registry, facade, privileges)
		if err != nil {
			return nil, err
		}
		communities = append(communities, c)
	}
	return communities, nil
}
