package community

import (
	"testing"

	"github.com/dispersy-go/dispersy/crypto"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/member"
	"github.com/dispersy-go/dispersy/message"
	"github.com/dispersy-go/dispersy/store"
	"github.com/dispersy-go/dispersy/timeline"
)

func newTestCommunity(t *testing.T) (*Community, *member.Registry, *store.Facade) {
	t.Helper()
	registry := member.NewRegistry()
	facade := store.NewFacade(store.NewMemoryDB())

	kp, err := crypto.GenerateKeypair(1024)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	myMember := registry.InternLocal(kp)

	privileges := []Privilege{
		DispersySyncPrivilege(),
		{Name: "status", Distribution: message.DistFullSync, Destination: message.DestCommunity},
	}
	c, err := CreateCommunity(facade, registry, myMember, privileges)
	if err != nil {
		t.Fatalf("CreateCommunity: %v", err)
	}
	return c, registry, facade
}

func TestCreateCommunityRequiresDispersySync(t *testing.T) {
	registry := member.NewRegistry()
	facade := store.NewFacade(store.NewMemoryDB())
	kp, _ := crypto.GenerateKeypair(1024)
	myMember := registry.InternLocal(kp)

	_, err := CreateCommunity(facade, registry, myMember, []Privilege{
		{Name: "status", Distribution: message.DistFullSync},
	})
	if err == nil {
		t.Fatal("expected CreateCommunity to reject a privilege set missing dispersy-sync")
	}
}

func TestCreateCommunityAuthorizesCreator(t *testing.T) {
	c, _, _ := newTestCommunity(t)

	allowed, _, err := c.Timeline().Check(c.MyMember.MID(), "status", timeline.Permit, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !allowed {
		t.Fatal("creator should be authorized on all non-public privileges at creation")
	}
}

func TestJoinCommunityGrantsNoPermissions(t *testing.T) {
	creator, _, _ := newTestCommunity(t)

	joinerRegistry := member.NewRegistry()
	joinerFacade := store.NewFacade(store.NewMemoryDB())
	kp, _ := crypto.GenerateKeypair(1024)
	joinerMember := joinerRegistry.InternLocal(kp)

	joined, err := JoinCommunity(joinerFacade, joinerRegistry, creator.MasterMember.PublicBlob(), joinerMember, []Privilege{
		DispersySyncPrivilege(),
		{Name: "status", Distribution: message.DistFullSync},
	})
	if err != nil {
		t.Fatalf("JoinCommunity: %v", err)
	}
	if joined.CID != creator.CID {
		t.Fatalf("joined CID = %x, want %x", joined.CID, creator.CID)
	}

	_, _, err = joined.Timeline().Check(joinerMember.MID(), "status", timeline.Permit, 1)
	if err == nil {
		t.Fatal("joiner should not be pre-authorized; expected undecidable")
	}
}

func TestLoadCommunitiesEnumeratesPersistedRows(t *testing.T) {
	_, registry, facade := newTestCommunity(t)

	loaded, err := LoadCommunities(facade, registry, func(cid ids.CID) []Privilege {
		return []Privilege{DispersySyncPrivilege(), {Name: "status", Distribution: message.DistFullSync}}
	})
	if err != nil {
		t.Fatalf("LoadCommunities: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("got %d communities, want 1", len(loaded))
	}
}

func TestBloomWindowGrowsAndMarksSync(t *testing.T) {
	c, _, _ := newTestCommunity(t)

	packet := []byte("packet-at-gt-250")
	c.MarkSynced(250, packet)
	if !c.HasSynced(250, packet) {
		t.Fatal("expected packet to be found in its Bloom window")
	}
	if c.HasSynced(50, packet) {
		t.Fatal("packet should not appear in an unrelated window")
	}
}
