package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dispersy-go/dispersy/errs"
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/rlp"
)

// ErrStorageError is the store-local disposition sentinel; Tx also
// wraps errs.ErrStorageError so callers outside this package can branch
// on the shared taxonomy with errors.Is.
var ErrStorageError = errors.New("store: storage error")

// Table prefixes, one byte each: every key in the backing Database
// starts with its table's prefix, so a single keyspace can hold all
// five tables without collision.
const (
	prefixCommunity byte = 'c'
	prefixUser      byte = 'u'
	prefixKey       byte = 'k'
	prefixRouting   byte = 'r'
	prefixSync      byte = 's'
)

// CommunityRow is one row of the community table: a joined community and
// the local user that joined it.
type CommunityRow struct {
	ID         uint64
	UserID     uint64
	CID        ids.CID
	MasterBlob []byte
}

// UserRow is one row of the user (interned member) table.
type UserRow struct {
	ID   uint64
	MID  ids.MID
	Blob []byte
}

// KeyRow is one row of the private-key table for a local-identity member.
type KeyRow struct {
	ID          uint64
	PublicBlob  []byte
	PrivateBlob []byte // may be a crypto.SealedBlob encoding if encrypted at rest
}

// RoutingRow is one learned peer endpoint for a community. CommunityID 0
// is the bootstrap template copied into new communities on creation.
type RoutingRow struct {
	CommunityID  uint64
	Host         string
	Port         uint16
	IncomingTime int64
	OutgoingTime int64
}

// SyncRow is one stored message row, keyed for FullSync/LastSync lookup
// and Bloom-window membership.
type SyncRow struct {
	CommunityID uint64
	Signer      ids.MID
	Privilege   string
	GlobalTime  uint64
	SequenceNo  uint64 // 0 for LastSync/Direct, which carry no sequence number
	Packet      []byte
}

// Facade is the Database Facade: a transactional front end over a
// Database, providing the community/user/key/routing/sync tables.
// Creating a community inserts rows across four of the five tables
// (community, user, key, routing), which is
// why Tx exists: callers wrap several inserts (community, user, key,
// routing-bootstrap-copy) in one commit rather than issuing them as
// independent writes. Row values are serialized with rlp rather than a
// bespoke binary layout per row type.
type Facade struct {
	mu  sync.Mutex
	db  Database
	seq map[byte]uint64 // per-table auto-increment counters

	communities *PrefixedStore
	users       *PrefixedStore
	keys        *PrefixedStore
}

// NewFacade wraps db (MemoryDB for tests/embedding, LevelDB for
// persistence) as a Facade. db must also implement KeyValueIterator;
// both shipped implementations do.
func NewFacade(db Database) *Facade {
	it := db.(KeyValueIterator)
	return &Facade{
		db:          db,
		seq:         make(map[byte]uint64),
		communities: NewPrefixedStore(it, []byte{prefixCommunity}),
		users:       NewPrefixedStore(it, []byte{prefixUser}),
		keys:        NewPrefixedStore(it, []byte{prefixKey}),
	}
}

// Tx runs fn inside a write batch: fn's writes are staged and committed
// atomically on return, or discarded if fn returns an error — acquire
// on entry, commit on normal exit, rollback on failure.
func (f *Facade) Tx(fn func(*Txn) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.db.NewBatch()
	txn := &Txn{
		f:           f,
		batch:       batch,
		communities: NewPrefixedBatch(batch, []byte{prefixCommunity}),
		users:       NewPrefixedBatch(batch, []byte{prefixUser}),
		keys:        NewPrefixedBatch(batch, []byte{prefixKey}),
	}
	if err := fn(txn); err != nil {
		batch.Reset()
		return fmt.Errorf("%w: %w: %v", ErrStorageError, errs.ErrStorageError, err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: %w: %v", ErrStorageError, errs.ErrStorageError, err)
	}
	return nil
}

// Txn is the write surface available inside a Facade.Tx callback. The
// community/user/key tables are staged through a PrefixedBatch scoped to
// that table's prefix; routing and sync keys vary in shape enough
// (composite host/port and signer/privilege/global-time/sequence keys)
// that they still build their own keys with the helpers below.
type Txn struct {
	f     *Facade
	batch Batch

	communities *PrefixedBatch
	users       *PrefixedBatch
	keys        *PrefixedBatch
}

func (f *Facade) nextID(table byte) uint64 {
	f.seq[table]++
	return f.seq[table]
}

// InsertCommunity inserts a community row and returns its assigned id.
func (t *Txn) InsertCommunity(userID uint64, cid ids.CID, masterBlob []byte) (uint64, error) {
	id := t.f.nextID(prefixCommunity)
	row := CommunityRow{ID: id, UserID: userID, CID: cid, MasterBlob: masterBlob}
	return id, t.communities.Put(idSuffix(id), encodeCommunityRow(row))
}

// InsertUser interns a member row and returns its assigned id.
func (t *Txn) InsertUser(mid ids.MID, blob []byte) (uint64, error) {
	id := t.f.nextID(prefixUser)
	row := UserRow{ID: id, MID: mid, Blob: blob}
	return id, t.users.Put(idSuffix(id), encodeUserRow(row))
}

// InsertKey stores a local-identity member's key pair.
func (t *Txn) InsertKey(publicBlob, privateBlob []byte) (uint64, error) {
	id := t.f.nextID(prefixKey)
	row := KeyRow{ID: id, PublicBlob: publicBlob, PrivateBlob: privateBlob}
	return id, t.keys.Put(idSuffix(id), encodeKeyRow(row))
}

// CopyRoutingTemplate copies every routing row under templateCommunityID
// (normally 0, the bootstrap template) to destCommunityID, the step a
// newly created or joined community uses to inherit the node's known
// bootstrap peers.
func (t *Txn) CopyRoutingTemplate(templateCommunityID, destCommunityID uint64, read func() ([]RoutingRow, error)) error {
	rows, err := read()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.CommunityID != templateCommunityID {
			continue
		}
		r.CommunityID = destCommunityID
		if err := t.batch.Put(routingKey(r.CommunityID, r.Host, r.Port), encodeRoutingRow(r)); err != nil {
			return err
		}
	}
	return nil
}

// PutRouting upserts a routing row.
func (t *Txn) PutRouting(r RoutingRow) error {
	return t.batch.Put(routingKey(r.CommunityID, r.Host, r.Port), encodeRoutingRow(r))
}

// PutSync upserts a sync row.
func (t *Txn) PutSync(r SyncRow) error {
	return t.batch.Put(syncKey(r.CommunityID, r.Signer, r.Privilege, r.GlobalTime, r.SequenceNo), r.Packet)
}

// DeleteSync removes a sync row, used by LastSync eviction.
func (t *Txn) DeleteSync(communityID uint64, signer ids.MID, privilege string, globalTime, seq uint64) error {
	return t.batch.Delete(syncKey(communityID, signer, privilege, globalTime, seq))
}

// --- read path (outside transactions: reads are not batched) ---

// GetCommunity looks up a community row by database id.
func (f *Facade) GetCommunity(id uint64) (CommunityRow, error) {
	v, err := f.communities.Get(idSuffix(id))
	if err != nil {
		return CommunityRow{}, err
	}
	return decodeCommunityRow(v)
}

// ListCommunities enumerates every persisted community row; this is the
// concrete load_communities() enumeration a node walks at startup to
// resume every community it had previously joined.
func (f *Facade) ListCommunities() ([]CommunityRow, error) {
	it := f.communities.Iterator()
	defer it.Release()

	var rows []CommunityRow
	for it.Next() {
		row, err := decodeCommunityRow(it.Value())
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetUser looks up an interned member row by database id.
func (f *Facade) GetUser(id uint64) (UserRow, error) {
	v, err := f.users.Get(idSuffix(id))
	if err != nil {
		return UserRow{}, err
	}
	return decodeUserRow(v)
}

// GetKey looks up a stored key-pair row by database id.
func (f *Facade) GetKey(id uint64) (KeyRow, error) {
	v, err := f.keys.Get(idSuffix(id))
	if err != nil {
		return KeyRow{}, err
	}
	return decodeKeyRow(v)
}

// ListKeys enumerates every persisted local-identity key row, used at
// startup to recover the node's own keypair(s) across restarts.
func (f *Facade) ListKeys() ([]KeyRow, error) {
	it := f.keys.Iterator()
	defer it.Release()

	var rows []KeyRow
	for it.Next() {
		row, err := decodeKeyRow(it.Value())
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ListRouting returns every routing row belonging to communityID.
func (f *Facade) ListRouting(communityID uint64) ([]RoutingRow, error) {
	it := f.db.(KeyValueIterator).NewIterator(routingPrefix(communityID))
	defer it.Release()

	var rows []RoutingRow
	for it.Next() {
		row, err := decodeRoutingRow(it.Value())
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ListSync returns every sync row for (communityID, signer, privilege),
// in key order (ascending global_time, then sequence number).
func (f *Facade) ListSync(communityID uint64, signer ids.MID, privilege string) ([]SyncRow, error) {
	it := f.db.(KeyValueIterator).NewIterator(syncPrefix(communityID, signer, privilege))
	defer it.Release()

	var rows []SyncRow
	for it.Next() {
		rows = append(rows, decodeSyncRowFromKey(it.Key(), it.Value()))
	}
	return rows, nil
}

var tableNames = map[byte]string{
	prefixCommunity: "community",
	prefixUser:      "user",
	prefixKey:       "key",
	prefixRouting:   "routing",
	prefixSync:      "sync",
}

// tableCounter is implemented by backends (MemoryDB) that can report a
// per-prefix key count without a NewIterator scan.
type tableCounter interface {
	TableCounts() map[byte]int
}

// TableStats reports the number of rows in each of the five tables, for
// a node's "status" command and diagnostics. It prefers the backing
// Database's own TableCounts when available, falling back to scanning
// each table's prefix with NewIterator otherwise.
func (f *Facade) TableStats() (map[string]int, error) {
	stats := make(map[string]int, len(tableNames))

	if tc, ok := f.db.(tableCounter); ok {
		counts := tc.TableCounts()
		for prefix, name := range tableNames {
			stats[name] = counts[prefix]
		}
		return stats, nil
	}

	it := f.db.(KeyValueIterator)
	for prefix, name := range tableNames {
		n := 0
		rows := it.NewIterator([]byte{prefix})
		for rows.Next() {
			n++
		}
		rows.Release()
		stats[name] = n
	}
	return stats, nil
}

// SeedBootstrapRouting writes entries as routing rows under community 0,
// the template CopyRoutingTemplate reads from when a new community is
// created. It is meant for startup, loading a handful of configured
// bootstrap peers in one call, so it goes through a BatchWriter rather
// than Tx: BatchWriter's auto-flush means a misconfigured node pointed
// at hundreds of bootstrap entries still writes in bounded-size chunks
// instead of staging one unbounded batch in memory.
func (f *Facade) SeedBootstrapRouting(entries []RoutingRow) error {
	bw := NewBatchWriter(f.db)
	for _, r := range entries {
		r.CommunityID = 0
		if err := bw.Put(routingKey(r.CommunityID, r.Host, r.Port), encodeRoutingRow(r)); err != nil {
			return fmt.Errorf("store: seed bootstrap routing: %w", err)
		}
	}
	return bw.Close()
}

// ListSyncByCommunity returns every sync row stored for communityID,
// across all signers and privileges, in key order. Used by the sync
// loop to gather anti-entropy candidates for a Bloom window without
// needing to know every (signer, privilege) pair in advance.
func (f *Facade) ListSyncByCommunity(communityID uint64) ([]SyncRow, error) {
	it := f.db.(KeyValueIterator).NewIterator(syncCommunityPrefix(communityID))
	defer it.Release()

	var rows []SyncRow
	for it.Next() {
		rows = append(rows, decodeSyncRowFromKey(it.Key(), it.Value()))
	}
	return rows, nil
}

// --- key encoding ---

// idSuffix is the table-local key (prefix stripped) for the
// community/user/key tables, each of which is keyed by its own
// auto-increment id.
func idSuffix(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func routingPrefix(communityID uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = prefixRouting
	binary.BigEndian.PutUint64(buf[1:], communityID)
	return buf
}

func routingKey(communityID uint64, host string, port uint16) []byte {
	buf := routingPrefix(communityID)
	buf = append(buf, []byte(host)...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, port)
	return append(buf, portBuf...)
}

func syncCommunityPrefix(communityID uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = prefixSync
	binary.BigEndian.PutUint64(buf[1:], communityID)
	return buf
}

func syncPrefix(communityID uint64, signer ids.MID, privilege string) []byte {
	buf := syncCommunityPrefix(communityID)
	buf = append(buf, signer[:]...)
	buf = append(buf, []byte(privilege)...)
	buf = append(buf, 0) // separator so privilege names can't collide with the global_time suffix
	return buf
}

func syncKey(communityID uint64, signer ids.MID, privilege string, globalTime, seq uint64) []byte {
	buf := syncPrefix(communityID, signer, privilege)
	gt := make([]byte, 8)
	binary.BigEndian.PutUint64(gt, globalTime)
	sn := make([]byte, 8)
	binary.BigEndian.PutUint64(sn, seq)
	return append(append(buf, gt...), sn...)
}

// --- row encoding: community, user, key and routing rows are plain
// exported-field structs stored as rlp lists; key and routing rows go
// through rlp's reflection-based encoder. Sync rows store the raw packet
// as the value, with their other fields in the key. ---

// rowEncoder collects metrics for the two identifier-keyed tables
// (community, user) whose rows are dominated by a fixed 20-byte MID/CID
// and are built with rlp's reflection-free append helpers rather than
// the pool's buffers; those helpers produce the identical byte layout
// rlp.EncodeToBytes would for the same struct, so DecodeBytes below
// reads rows back with the general decoder unchanged.
var rowEncoder = rlp.NewEncoderPool()

func encodeCommunityRow(r CommunityRow) []byte {
	var payload []byte
	payload = rlp.AppendUint64(payload, r.ID)
	payload = rlp.AppendUint64(payload, r.UserID)
	payload = append(payload, rlp.EncodeBytes20(r.CID)...)
	payload = rlp.AppendBytes(payload, r.MasterBlob)
	out := rlp.AppendListHeader(make([]byte, 0, rlp.EstimateListSize(len(payload))), len(payload))
	out = append(out, payload...)
	rowEncoder.Metrics().TotalEncodes.Add(1)
	rowEncoder.Metrics().TotalBytes.Add(int64(len(out)))
	return out
}

func decodeCommunityRow(b []byte) (CommunityRow, error) {
	var r CommunityRow
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return CommunityRow{}, fmt.Errorf("store: decode community row: %w", err)
	}
	return r, nil
}

func encodeUserRow(r UserRow) []byte {
	var payload []byte
	payload = rlp.AppendUint64(payload, r.ID)
	payload = append(payload, rlp.EncodeBytes20(r.MID)...)
	payload = rlp.AppendBytes(payload, r.Blob)
	out := rlp.AppendListHeader(make([]byte, 0, rlp.EstimateListSize(len(payload))), len(payload))
	out = append(out, payload...)
	rowEncoder.Metrics().TotalEncodes.Add(1)
	rowEncoder.Metrics().TotalBytes.Add(int64(len(out)))
	return out
}

func decodeUserRow(b []byte) (UserRow, error) {
	var r UserRow
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return UserRow{}, fmt.Errorf("store: decode user row: %w", err)
	}
	return r, nil
}

func encodeKeyRow(r KeyRow) []byte {
	b, err := rlp.EncodeToBytes(r)
	if err != nil {
		panic(fmt.Sprintf("store: encode key row: %v", err))
	}
	return b
}

func decodeKeyRow(b []byte) (KeyRow, error) {
	var r KeyRow
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return KeyRow{}, fmt.Errorf("store: decode key row: %w", err)
	}
	return r, nil
}

func encodeRoutingRow(r RoutingRow) []byte {
	b, err := rlp.EncodeToBytes(r)
	if err != nil {
		panic(fmt.Sprintf("store: encode routing row: %v", err))
	}
	return b
}

func decodeRoutingRow(b []byte) (RoutingRow, error) {
	var r RoutingRow
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return RoutingRow{}, fmt.Errorf("store: decode routing row: %w", err)
	}
	return r, nil
}

func decodeSyncRowFromKey(key, value []byte) SyncRow {
	var r SyncRow
	r.CommunityID = binary.BigEndian.Uint64(key[1:9])
	copy(r.Signer[:], key[9:9+ids.Size])
	rest := key[9+ids.Size:]
	// rest = privilege || 0x00 || global_time(8) || seq(8)
	sep := len(rest) - 1 - 16
	r.Privilege = string(rest[:sep])
	r.GlobalTime = binary.BigEndian.Uint64(rest[sep+1 : sep+9])
	r.SequenceNo = binary.BigEndian.Uint64(rest[sep+9 : sep+17])
	r.Packet = append([]byte(nil), value...)
	return r
}
