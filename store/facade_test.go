package store

import (
	"errors"
	"testing"

	"github.com/dispersy-go/dispersy/ids"
)

func TestFacadeCreateCommunityTransactional(t *testing.T) {
	f := NewFacade(NewMemoryDB())

	var cid ids.CID
	cid[0] = 0xAB
	masterBlob := []byte("master-public-blob")

	var communityID uint64
	err := f.Tx(func(txn *Txn) error {
		userID, err := txn.InsertUser(ids.MID{0x01}, []byte("user-blob"))
		if err != nil {
			return err
		}
		communityID, err = txn.InsertCommunity(userID, cid, masterBlob)
		return err
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}

	row, err := f.GetCommunity(communityID)
	if err != nil {
		t.Fatalf("GetCommunity: %v", err)
	}
	if row.CID != cid {
		t.Fatalf("GetCommunity CID = %x, want %x", row.CID, cid)
	}
}

func TestFacadeTxRollsBackOnError(t *testing.T) {
	f := NewFacade(NewMemoryDB())

	errSimulated := errors.New("simulated failure")
	err := f.Tx(func(txn *Txn) error {
		txn.InsertUser(ids.MID{0x01}, []byte("user-blob"))
		return errSimulated
	})
	if err == nil {
		t.Fatal("expected Tx to propagate the callback error")
	}

	rows, err := f.ListCommunities()
	if err != nil {
		t.Fatalf("ListCommunities: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rolled-back Tx left %d community rows, want 0", len(rows))
	}

	stats, err := f.TableStats()
	if err != nil {
		t.Fatalf("TableStats: %v", err)
	}
	if stats["user"] != 0 {
		t.Fatalf("rolled-back Tx left %d user rows, want 0", stats["user"])
	}
}

func TestFacadeListSyncOrdersByGlobalTimeThenSequence(t *testing.T) {
	f := NewFacade(NewMemoryDB())
	signer := ids.MID{0x02}

	err := f.Tx(func(txn *Txn) error {
		txn.PutSync(SyncRow{CommunityID: 1, Signer: signer, Privilege: "status", GlobalTime: 2, SequenceNo: 1, Packet: []byte("b")})
		txn.PutSync(SyncRow{CommunityID: 1, Signer: signer, Privilege: "status", GlobalTime: 1, SequenceNo: 1, Packet: []byte("a")})
		return nil
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}

	rows, err := f.ListSync(1, signer, "status")
	if err != nil {
		t.Fatalf("ListSync: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if string(rows[0].Packet) != "a" || string(rows[1].Packet) != "b" {
		t.Fatalf("ListSync not ordered by global_time: %q then %q", rows[0].Packet, rows[1].Packet)
	}
}

func TestFacadeRoutingBootstrapCopy(t *testing.T) {
	f := NewFacade(NewMemoryDB())

	// Seed the community=0 bootstrap template.
	if err := f.Tx(func(txn *Txn) error {
		return txn.PutRouting(RoutingRow{CommunityID: 0, Host: "bootstrap.example", Port: 6421})
	}); err != nil {
		t.Fatalf("seed Tx: %v", err)
	}

	if err := f.Tx(func(txn *Txn) error {
		return txn.CopyRoutingTemplate(0, 7, func() ([]RoutingRow, error) {
			return f.ListRouting(0)
		})
	}); err != nil {
		t.Fatalf("copy Tx: %v", err)
	}

	rows, err := f.ListRouting(7)
	if err != nil {
		t.Fatalf("ListRouting: %v", err)
	}
	if len(rows) != 1 || rows[0].Host != "bootstrap.example" {
		t.Fatalf("bootstrap copy did not land on new community: %+v", rows)
	}
}

func TestFacadeTableStatsCountsEachTable(t *testing.T) {
	f := NewFacade(NewMemoryDB())

	if err := f.Tx(func(txn *Txn) error {
		if _, err := txn.InsertUser(ids.MID{1}, []byte("blob")); err != nil {
			return err
		}
		_, err := txn.InsertUser(ids.MID{2}, []byte("blob"))
		return err
	}); err != nil {
		t.Fatalf("Tx: %v", err)
	}

	stats, err := f.TableStats()
	if err != nil {
		t.Fatalf("TableStats: %v", err)
	}
	if stats["user"] != 2 {
		t.Errorf("user table count = %d, want 2", stats["user"])
	}
	if stats["community"] != 0 {
		t.Errorf("community table count = %d, want 0", stats["community"])
	}
}

func TestFacadeSeedBootstrapRoutingWritesCommunityZero(t *testing.T) {
	f := NewFacade(NewMemoryDB())

	entries := []RoutingRow{
		{CommunityID: 99, Host: "seed1.example", Port: 1000}, // CommunityID is forced to 0
		{Host: "seed2.example", Port: 2000},
	}
	if err := f.SeedBootstrapRouting(entries); err != nil {
		t.Fatalf("SeedBootstrapRouting: %v", err)
	}

	rows, err := f.ListRouting(0)
	if err != nil {
		t.Fatalf("ListRouting: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d routing rows, want 2: %+v", len(rows), rows)
	}
	hosts := map[string]bool{rows[0].Host: true, rows[1].Host: true}
	if !hosts["seed1.example"] || !hosts["seed2.example"] {
		t.Fatalf("unexpected hosts: %+v", rows)
	}
}
