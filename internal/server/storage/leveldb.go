package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"unlockd/internal/server/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout. Ids are big-endian so prefix iteration yields ascending order.
var (
	keyCount          = []byte("m/count")
	prefixContent     = []byte("c/")
	prefixGrant       = []byte("g/")
	prefixAccount     = []byte("a/")
	prefixCreatorIdx  = []byte("ic/")
	prefixBuyerIdx    = []byte("ib/")
	prefixWithdrawals = []byte("w/")
)

// LevelDBStore persists the ledger in a goleveldb database, with explicit
// creator and buyer index keys maintained on every write.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore creates the directory if needed and opens the database in it.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create leveldb directory %s: %w", path, err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// OpenLevelDBStore opens a store over an arbitrary goleveldb storage, such as
// lvlstorage.NewMemStorage() in tests.
func OpenLevelDBStore(stor lvlstorage.Storage) (*LevelDBStore, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// View runs fn against a point-in-time snapshot.
func (s *LevelDBStore) View(ctx context.Context, fn func(r ledger.Reader) error) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("failed to take snapshot: %w", err)
	}
	defer snap.Release()
	return fn(&levelTx{r: snap})
}

// Update runs fn inside a goleveldb transaction, which excludes other writers
// until it is committed or discarded.
func (s *LevelDBStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}
	if err := fn(&levelTx{r: tr, tr: tr}); err != nil {
		tr.Discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck reads a key to confirm the database is usable.
func (s *LevelDBStore) HealthCheck(ctx context.Context) error {
	if _, err := s.db.Get(keyCount, nil); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}
	return nil
}

// Close flushes and closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

type kvReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type levelTx struct {
	r  kvReader
	tr *leveldb.Transaction // nil for read-only snapshots
}

// --- records ---

type contentRecord struct {
	ID            uint64
	Title         string
	Description   string
	ContentType   uint8
	IPFSHash      string
	EmbedURL      string
	PreviewHash   string
	Price         *big.Int
	Creator       common.Address
	IsActive      bool
	CreatedAt     uint64
	TotalEarnings *big.Int
	TotalSales    uint64
}

type grantRecord struct {
	AmountPaid *big.Int
	GrantedAt  uint64
}

type accountRecord struct {
	ActiveContent    uint64
	ActiveEarnings   *big.Int
	ActiveSales      uint64
	LifetimeEarnings *big.Int
	LifetimeSales    uint64
	Balance          *big.Int
	TotalWithdrawn   *big.Int
	LastWithdrawalAt uint64
}

type withdrawalRecord struct {
	Amount    *big.Int
	Reference string
	CreatedAt uint64
}

func encodeTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func decodeTime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

func idBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// --- reads ---

func (t *levelTx) get(key []byte, out interface{}) error {
	raw, err := t.r.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ledger.ErrNotFound
		}
		return fmt.Errorf("failed to read key %q: %w", key, err)
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return fmt.Errorf("failed to decode key %q: %w", key, err)
	}
	return nil
}

func (t *levelTx) ContentCount(ctx context.Context) (uint64, error) {
	raw, err := t.r.Get(keyCount, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read content count: %w", err)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (t *levelTx) Content(ctx context.Context, id uint64) (*ledger.ContentItem, error) {
	var rec contentRecord
	if err := t.get(join(prefixContent, idBytes(id)), &rec); err != nil {
		return nil, err
	}
	return &ledger.ContentItem{
		ID:            rec.ID,
		Title:         rec.Title,
		Description:   rec.Description,
		ContentType:   ledger.ContentType(rec.ContentType),
		IPFSHash:      rec.IPFSHash,
		EmbedURL:      rec.EmbedURL,
		PreviewHash:   rec.PreviewHash,
		Price:         ledger.CopyAmount(rec.Price),
		Creator:       rec.Creator,
		IsActive:      rec.IsActive,
		CreatedAt:     decodeTime(rec.CreatedAt),
		TotalEarnings: ledger.CopyAmount(rec.TotalEarnings),
		TotalSales:    rec.TotalSales,
	}, nil
}

func (t *levelTx) HasAccess(ctx context.Context, buyer common.Address, contentID uint64) (bool, error) {
	_, err := t.r.Get(join(prefixGrant, buyer.Bytes(), idBytes(contentID)), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read grant: %w", err)
	}
	return true, nil
}

func (t *levelTx) CreatorAccount(ctx context.Context, creator common.Address) (*ledger.CreatorAccount, error) {
	var rec accountRecord
	if err := t.get(join(prefixAccount, creator.Bytes()), &rec); err != nil {
		return nil, err
	}
	return &ledger.CreatorAccount{
		Creator:          creator,
		ActiveContent:    rec.ActiveContent,
		ActiveEarnings:   ledger.CopyAmount(rec.ActiveEarnings),
		ActiveSales:      rec.ActiveSales,
		LifetimeEarnings: ledger.CopyAmount(rec.LifetimeEarnings),
		LifetimeSales:    rec.LifetimeSales,
		Balance:          ledger.CopyAmount(rec.Balance),
		TotalWithdrawn:   ledger.CopyAmount(rec.TotalWithdrawn),
		LastWithdrawalAt: decodeTime(rec.LastWithdrawalAt),
	}, nil
}

// indexIDs collects the trailing big-endian ids of every key under prefix.
func (t *levelTx) indexIDs(prefix []byte) ([]uint64, error) {
	it := t.r.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var ids []uint64
	for it.Next() {
		key := it.Key()
		ids = append(ids, binary.BigEndian.Uint64(key[len(key)-8:]))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}
	return ids, nil
}

func (t *levelTx) CreatorContentIDs(ctx context.Context, creator common.Address) ([]uint64, error) {
	return t.indexIDs(join(prefixCreatorIdx, creator.Bytes()))
}

func (t *levelTx) BuyerContentIDs(ctx context.Context, buyer common.Address) ([]uint64, error) {
	return t.indexIDs(join(prefixBuyerIdx, buyer.Bytes()))
}

func (t *levelTx) Withdrawals(ctx context.Context, creator common.Address) ([]*ledger.Withdrawal, error) {
	it := t.r.NewIterator(util.BytesPrefix(join(prefixWithdrawals, creator.Bytes())), nil)
	defer it.Release()

	var out []*ledger.Withdrawal
	for it.Next() {
		var rec withdrawalRecord
		if err := rlp.DecodeBytes(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode withdrawal: %w", err)
		}
		out = append(out, &ledger.Withdrawal{
			Creator:   creator,
			Amount:    ledger.CopyAmount(rec.Amount),
			Reference: rec.Reference,
			CreatedAt: decodeTime(rec.CreatedAt),
		})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan withdrawals: %w", err)
	}
	return out, nil
}

// --- writes ---

func (t *levelTx) put(key []byte, v interface{}) error {
	if t.tr == nil {
		return errors.New("write attempted on read-only snapshot")
	}
	raw, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %q: %w", key, err)
	}
	return t.tr.Put(key, raw, nil)
}

func (t *levelTx) putRaw(key, value []byte) error {
	if t.tr == nil {
		return errors.New("write attempted on read-only snapshot")
	}
	return t.tr.Put(key, value, nil)
}

func toContentRecord(item *ledger.ContentItem) *contentRecord {
	return &contentRecord{
		ID:            item.ID,
		Title:         item.Title,
		Description:   item.Description,
		ContentType:   uint8(item.ContentType),
		IPFSHash:      item.IPFSHash,
		EmbedURL:      item.EmbedURL,
		PreviewHash:   item.PreviewHash,
		Price:         ledger.CopyAmount(item.Price),
		Creator:       item.Creator,
		IsActive:      item.IsActive,
		CreatedAt:     encodeTime(item.CreatedAt),
		TotalEarnings: ledger.CopyAmount(item.TotalEarnings),
		TotalSales:    item.TotalSales,
	}
}

func (t *levelTx) InsertContent(ctx context.Context, item *ledger.ContentItem) error {
	count, err := t.ContentCount(ctx)
	if err != nil {
		return err
	}
	if item.ID != count+1 {
		return fmt.Errorf("content id %d is not next in sequence (count %d)", item.ID, count)
	}
	if err := t.put(join(prefixContent, idBytes(item.ID)), toContentRecord(item)); err != nil {
		return err
	}
	if err := t.putRaw(join(prefixCreatorIdx, item.Creator.Bytes(), idBytes(item.ID)), nil); err != nil {
		return err
	}
	return t.putRaw(keyCount, idBytes(item.ID))
}

func (t *levelTx) UpdateContent(ctx context.Context, item *ledger.ContentItem) error {
	if _, err := t.Content(ctx, item.ID); err != nil {
		return err
	}
	return t.put(join(prefixContent, idBytes(item.ID)), toContentRecord(item))
}

func (t *levelTx) InsertGrant(ctx context.Context, grant *ledger.AccessGrant) error {
	exists, err := t.HasAccess(ctx, grant.Buyer, grant.ContentID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("grant for %s on content %d already exists", grant.Buyer.Hex(), grant.ContentID)
	}
	rec := &grantRecord{AmountPaid: ledger.CopyAmount(grant.AmountPaid), GrantedAt: encodeTime(grant.GrantedAt)}
	if err := t.put(join(prefixGrant, grant.Buyer.Bytes(), idBytes(grant.ContentID)), rec); err != nil {
		return err
	}
	return t.putRaw(join(prefixBuyerIdx, grant.Buyer.Bytes(), idBytes(grant.ContentID)), nil)
}

func (t *levelTx) PutCreatorAccount(ctx context.Context, account *ledger.CreatorAccount) error {
	rec := &accountRecord{
		ActiveContent:    account.ActiveContent,
		ActiveEarnings:   ledger.CopyAmount(account.ActiveEarnings),
		ActiveSales:      account.ActiveSales,
		LifetimeEarnings: ledger.CopyAmount(account.LifetimeEarnings),
		LifetimeSales:    account.LifetimeSales,
		Balance:          ledger.CopyAmount(account.Balance),
		TotalWithdrawn:   ledger.CopyAmount(account.TotalWithdrawn),
		LastWithdrawalAt: encodeTime(account.LastWithdrawalAt),
	}
	return t.put(join(prefixAccount, account.Creator.Bytes()), rec)
}

func (t *levelTx) InsertWithdrawal(ctx context.Context, w *ledger.Withdrawal) error {
	existing, err := t.Withdrawals(ctx, w.Creator)
	if err != nil {
		return err
	}
	seq := uint64(len(existing)) + 1
	rec := &withdrawalRecord{Amount: ledger.CopyAmount(w.Amount), Reference: w.Reference, CreatedAt: encodeTime(w.CreatedAt)}
	return t.put(join(prefixWithdrawals, w.Creator.Bytes(), idBytes(seq)), rec)
}
