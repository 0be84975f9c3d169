package store

import (
	"encoding/binary"
	"math/big"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketHeaders = []byte("headers_by_hash")
	bucketBlocks  = []byte("blocks_by_hash")
	bucketIndex   = []byte("block_index_by_hash")
	bucketMeta    = []byte("meta")

	keyTip = []byte("tip")
)

type BlockStatus byte

const (
	BlockStatusUnknown BlockStatus = 0
	BlockStatusValid   BlockStatus = 1
	BlockStatusInvalid BlockStatus = 2
)

func (s BlockStatus) String() string {
	switch s {
	case BlockStatusValid:
		return "valid"
	case BlockStatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type BlockIndexEntry struct {
	Height         uint64
	PrevHash       [32]byte
	CumulativeWork *big.Int // non-negative
	Status         BlockStatus
	// Reason is the consensus error code for invalid blocks.
	Reason string
}

type DB struct {
	chainDir string
	db       *bolt.DB
}

func Open(datadir string, network string) (*DB, error) {
	if datadir == "" {
		return nil, errors.New("datadir required")
	}
	if network == "" {
		return nil, errors.New("network required")
	}

	chainDir := ChainDir(datadir, network)
	if err := ensureDir(chainDir); err != nil {
		return nil, err
	}

	path := filepath.Join(chainDir, "kv.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt")
	}

	d := &DB{chainDir: chainDir, db: bdb}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeaders, bucketBlocks, bucketIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrapf(err, "create bucket %s", string(b))
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

// PutValidBlock stores header, block bytes and index entry in one transaction.
func (d *DB) PutValidBlock(hash [32]byte, headerBytes []byte, blockBytes []byte, e BlockIndexEntry) error {
	idx, err := encodeIndexEntry(e)
	if err != nil {
		return err
	}
	return errors.Wrapf(d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(hash[:], headerBytes); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBlocks).Put(hash[:], blockBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put(hash[:], idx)
	}), "put block %x", hash[:])
}

// PutInvalidBlock records the header and index entry only; the body of an
// invalid block is never kept.
func (d *DB) PutInvalidBlock(hash [32]byte, headerBytes []byte, e BlockIndexEntry) error {
	idx, err := encodeIndexEntry(e)
	if err != nil {
		return err
	}
	return errors.Wrapf(d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(hash[:], headerBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put(hash[:], idx)
	}), "put invalid block %x", hash[:])
}

func (d *DB) GetHeader(hash [32]byte) ([]byte, bool, error) {
	return d.get(bucketHeaders, hash)
}

func (d *DB) GetBlockBytes(hash [32]byte) ([]byte, bool, error) {
	return d.get(bucketBlocks, hash)
}

func (d *DB) get(bucket []byte, hash [32]byte) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(hash[:])
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", string(bucket))
	}
	return out, out != nil, nil
}

func (d *DB) GetIndex(hash [32]byte) (*BlockIndexEntry, bool, error) {
	var out *BlockIndexEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get(hash[:])
		if v == nil {
			return nil
		}
		e, err := decodeIndexEntry(v)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// ForEachIndex visits every index entry in key order.
func (d *DB) ForEachIndex(fn func(hash [32]byte, e *BlockIndexEntry) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).ForEach(func(k, v []byte) error {
			if len(k) != 32 {
				return errors.Errorf("index: bad key length %d", len(k))
			}
			e, err := decodeIndexEntry(v)
			if err != nil {
				return errors.Wrapf(err, "index %x", k)
			}
			var h [32]byte
			copy(h[:], k)
			return fn(h, e)
		})
	})
}

func (d *DB) SetTip(hash [32]byte) error {
	return errors.Wrap(d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyTip, hash[:])
	}), "set tip")
}

func (d *DB) GetTip() ([32]byte, bool, error) {
	var tip [32]byte
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyTip)
		if v == nil {
			return nil
		}
		if len(v) != 32 {
			return errors.Errorf("meta: bad tip length %d", len(v))
		}
		copy(tip[:], v)
		ok = true
		return nil
	})
	return tip, ok, err
}

// Index layout:
// height u64le | prev_hash 32 | status u8 | work_len u16le | work_bytes |
// reason_len u8 | reason
func encodeIndexEntry(e BlockIndexEntry) ([]byte, error) {
	if e.CumulativeWork == nil || e.CumulativeWork.Sign() < 0 {
		return nil, errors.New("index: cumulative_work required")
	}
	work := e.CumulativeWork.Bytes()
	if len(work) > 0xffff {
		return nil, errors.New("index: cumulative_work too large")
	}
	if len(e.Reason) > 0xff {
		return nil, errors.New("index: reason too long")
	}
	out := make([]byte, 0, 8+32+1+2+len(work)+1+len(e.Reason))
	out = binary.LittleEndian.AppendUint64(out, e.Height)
	out = append(out, e.PrevHash[:]...)
	out = append(out, byte(e.Status))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(work)))
	out = append(out, work...)
	out = append(out, byte(len(e.Reason)))
	out = append(out, e.Reason...)
	return out, nil
}

func decodeIndexEntry(b []byte) (*BlockIndexEntry, error) {
	if len(b) < 8+32+1+2 {
		return nil, errors.New("index: truncated")
	}
	e := &BlockIndexEntry{
		Height: binary.LittleEndian.Uint64(b[0:8]),
		Status: BlockStatus(b[40]),
	}
	copy(e.PrevHash[:], b[8:40])
	workLen := int(binary.LittleEndian.Uint16(b[41:43]))
	off := 43 + workLen
	if off+1 > len(b) {
		return nil, errors.New("index: bad work len")
	}
	e.CumulativeWork = new(big.Int).SetBytes(b[43:off])
	reasonLen := int(b[off])
	off++
	if off+reasonLen != len(b) {
		return nil, errors.New("index: bad reason len")
	}
	e.Reason = string(b[off:])
	return e, nil
}
