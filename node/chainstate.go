package node

import (
	"bytes"
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node/p2p"
	"dcnode.dev/node/node/store"
)

// MaxLinkingDepth bounds how far back LinkingData walks the active chain.
const MaxLinkingDepth = 2600

var (
	// ErrUnvalidatedBlock is fatal: something asked the chain state to
	// connect a block that did not come out of a successful validation.
	ErrUnvalidatedBlock = errors.New("chainstate: block was not validated")
	ErrUnknownParent    = errors.New("chainstate: unknown parent")
)

// ChainTip is the head of the active chain.
type ChainTip struct {
	Hash           [32]byte
	Height         uint64
	CumulativeWork *big.Int
}

type blockIndexEntry struct {
	hash        [32]byte
	prev        [32]byte
	height      uint64
	header      consensus.BlockHeader
	headerBytes []byte
	raw         []byte
	work        *big.Int
	status      store.BlockStatus
	reason      consensus.ErrorCode
	commitments consensus.CommitmentSet
}

// ValidatedBlock is proof that a block passed ValidateBlock against this
// chain state's context. Only the BlockProcessor creates one.
type ValidatedBlock struct {
	chain       *ChainState
	block       *consensus.Block
	raw         []byte
	height      uint64
	commitments consensus.CommitmentSet
}

func (vb *ValidatedBlock) Hash() [32]byte { return vb.block.Hash }

func (vb *ValidatedBlock) Height() uint64 { return vb.height }

// ChainState owns one node's block index and active tip. Every mutation
// happens under mu; readers never see a half-moved tip.
type ChainState struct {
	mu      sync.RWMutex
	target  [32]byte
	genesis [32]byte
	index   map[[32]byte]*blockIndexEntry
	tip     *blockIndexEntry
	// active[h] is the hash at height h on the chain ending at tip.
	active [][32]byte
	db     *store.DB
}

// NewChainState starts a chain at genesis. With a non-nil db, a previously
// persisted index is reloaded; otherwise genesis is written to it.
func NewChainState(genesis *consensus.Block, target [32]byte, db *store.DB) (*ChainState, error) {
	if genesis == nil {
		return nil, errors.New("chainstate: nil genesis")
	}
	if _, err := consensus.WorkFromTarget(target); err != nil {
		return nil, errors.Wrap(err, "chainstate: target")
	}
	work, err := consensus.WorkFromTarget(genesis.Header.Target)
	if err != nil {
		return nil, errors.Wrap(err, "chainstate: genesis target")
	}
	s := &ChainState{
		target:  target,
		genesis: genesis.Hash,
		index:   make(map[[32]byte]*blockIndexEntry),
		db:      db,
	}
	g := &blockIndexEntry{
		hash:        genesis.Hash,
		height:      0,
		header:      genesis.Header,
		headerBytes: genesis.HeaderBytes,
		raw:         consensus.MarshalBlock(genesis),
		work:        work,
		status:      store.BlockStatusValid,
	}
	s.index[g.hash] = g
	s.setTip(g)

	if db == nil {
		return s, nil
	}
	tipHash, ok, err := db.GetTip()
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.persistValid(g); err != nil {
			return nil, err
		}
		if err := db.SetTip(g.hash); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.reload(tipHash); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChainState) reload(tipHash [32]byte) error {
	stored, ok, err := s.db.GetIndex(s.genesis)
	if err != nil {
		return err
	}
	if !ok || stored.Height != 0 {
		return errors.New("chainstate: datadir belongs to a different genesis")
	}
	err = s.db.ForEachIndex(func(hash [32]byte, e *store.BlockIndexEntry) error {
		if hash == s.genesis {
			return nil
		}
		headerBytes, ok, err := s.db.GetHeader(hash)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("chainstate: missing header %x", hash[:])
		}
		header, err := consensus.ParseBlockHeaderBytes(headerBytes)
		if err != nil {
			return errors.Wrapf(err, "chainstate: header %x", hash[:])
		}
		entry := &blockIndexEntry{
			hash:        hash,
			prev:        e.PrevHash,
			height:      e.Height,
			header:      header,
			headerBytes: headerBytes,
			work:        e.CumulativeWork,
			status:      e.Status,
			reason:      consensus.ErrorCode(e.Reason),
		}
		if e.Status == store.BlockStatusValid {
			raw, ok, err := s.db.GetBlockBytes(hash)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("chainstate: missing block %x", hash[:])
			}
			blk, err := consensus.ParseBlockBytes(raw)
			if err != nil {
				return errors.Wrapf(err, "chainstate: block %x", hash[:])
			}
			entry.raw = raw
			entry.commitments = consensus.ExtractCommitments(blk.Coinbase(), nil)
		}
		s.index[hash] = entry
		return nil
	})
	if err != nil {
		return err
	}
	tip, ok := s.index[tipHash]
	if !ok || tip.status != store.BlockStatusValid {
		return errors.Errorf("chainstate: stored tip %x is not a valid indexed block", tipHash[:])
	}
	s.setTip(tip)
	return nil
}

// setTip moves the tip and rewrites active back to the fork point.
func (s *ChainState) setTip(tip *blockIndexEntry) {
	s.tip = tip
	s.active = s.active[:min(len(s.active), int(tip.height)+1)]
	for len(s.active) <= int(tip.height) {
		s.active = append(s.active, [32]byte{})
	}
	for e := tip; e != nil && s.active[e.height] != e.hash; e = s.index[e.prev] {
		s.active[e.height] = e.hash
		if e.height == 0 {
			break
		}
	}
}

// SetCommitmentMarker recomputes reloaded commitments with marker. Blocks
// connected after construction use the marker they were validated with.
func (s *ChainState) SetCommitmentMarker(marker []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.index {
		if e.status != store.BlockStatusValid || e.raw == nil {
			continue
		}
		blk, err := consensus.ParseBlockBytes(e.raw)
		if err != nil {
			return err
		}
		e.commitments = consensus.ExtractCommitments(blk.Coinbase(), marker)
	}
	return nil
}

func (s *ChainState) GenesisHash() [32]byte { return s.genesis }

func (s *ChainState) Target() [32]byte { return s.target }

func (s *ChainState) Tip() ChainTip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ChainTip{
		Hash:           s.tip.hash,
		Height:         s.tip.height,
		CumulativeWork: new(big.Int).Set(s.tip.work),
	}
}

func (s *ChainState) BestBlockHash() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip.hash
}

// BlockCount is the height of the active tip.
func (s *ChainState) BlockCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip.height
}

// Known reports whether hash is indexed, valid or invalid.
func (s *ChainState) Known(hash [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[hash]
	return ok
}

// Status returns the index status of hash and, for invalid blocks, the code
// they were rejected with.
func (s *ChainState) Status(hash [32]byte) (store.BlockStatus, consensus.ErrorCode) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[hash]
	if !ok {
		return store.BlockStatusUnknown, ""
	}
	return e.status, e.reason
}

// BlockBytes returns the serialized block for a valid indexed hash.
func (s *ChainState) BlockBytes(hash [32]byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[hash]
	if !ok || e.status != store.BlockStatusValid || e.raw == nil {
		return nil, false
	}
	return append([]byte(nil), e.raw...), true
}

// Commitments returns the commitments of a valid indexed block.
func (s *ChainState) Commitments(hash [32]byte) (consensus.CommitmentSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[hash]
	if !ok || e.status != store.BlockStatusValid {
		return nil, false
	}
	return append(consensus.CommitmentSet(nil), e.commitments...), true
}

// LinkedCommitment is one drivechain commitment found on the active chain.
type LinkedCommitment struct {
	Height    uint64
	BlockHash [32]byte
	Payload   []byte
}

// LinkingData lists commitments to drivechain id along the active chain,
// newest first, looking at most MaxLinkingDepth blocks back from the tip.
func (s *ChainState) LinkingData(id []byte) []LinkedCommitment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LinkedCommitment
	e := s.tip
	for depth := 0; e != nil && depth < MaxLinkingDepth; depth++ {
		for _, c := range e.commitments {
			if bytes.Equal(c.DrivechainID, id) {
				out = append(out, LinkedCommitment{
					Height:    e.height,
					BlockHash: e.hash,
					Payload:   append([]byte(nil), c.Payload...),
				})
			}
		}
		if e.height == 0 {
			break
		}
		e = s.index[e.prev]
	}
	return out
}

// HeaderContext is what a block extending parent is validated against.
func (s *ChainState) HeaderContext(parent [32]byte) (consensus.BlockContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index[parent]
	if !ok {
		return consensus.BlockContext{}, ErrUnknownParent
	}
	if p.status != store.BlockStatusValid {
		return consensus.BlockContext{}, &consensus.TxError{
			Code: consensus.BLOCK_ERR_INVALID_PARENT,
			Msg:  "parent block is invalid",
		}
	}
	prev := p.hash
	target := s.target
	ctx := consensus.BlockContext{
		Height:         p.height + 1,
		PrevHash:       &prev,
		ExpectedTarget: &target,
	}
	for e := p; e != nil && len(ctx.PrevTimestamps) < consensus.MTP_WINDOW; {
		ctx.PrevTimestamps = append(ctx.PrevTimestamps, e.header.Timestamp)
		if e.height == 0 {
			break
		}
		e = s.index[e.prev]
	}
	return ctx, nil
}

// ClaimedWork is the cumulative work header would have if it were valid.
// ok is false when its parent is not a known valid block.
func (s *ChainState) ClaimedWork(header consensus.BlockHeader) (*big.Int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index[header.PrevBlockHash]
	if !ok || p.status != store.BlockStatusValid {
		return nil, false
	}
	w, err := consensus.ExtendWork(p.work, header.Target)
	if err != nil {
		return nil, false
	}
	return w, true
}

// Locator samples the active chain for a getblocks request, newest first.
func (s *ChainState) Locator() [][32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	heights := p2p.LocatorHeights(s.tip.height)
	out := make([][32]byte, len(heights))
	for i, h := range heights {
		out[i] = s.active[h]
	}
	return out
}

// BlocksAfter answers a getblocks request: the active-chain hashes after
// the newest locator entry that is on our active chain (genesis when none
// is), oldest first, ending at stop or after limit entries.
func (s *ChainState) BlocksAfter(locator [][32]byte, stop [32]byte, limit int) [][32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var fork uint64
	for _, h := range locator {
		if e, ok := s.index[h]; ok && e.height < uint64(len(s.active)) && s.active[e.height] == h {
			fork = e.height
			break
		}
	}
	var out [][32]byte
	for h := fork + 1; h < uint64(len(s.active)) && len(out) < limit; h++ {
		out = append(out, s.active[h])
		if s.active[h] == stop {
			break
		}
	}
	return out
}

// ConnectValidBlock indexes a validated block and moves the tip when the
// block's chain has strictly more cumulative work than the current tip.
func (s *ChainState) ConnectValidBlock(vb *ValidatedBlock) (bool, error) {
	if vb == nil || vb.block == nil || vb.chain != s {
		return false, ErrUnvalidatedBlock
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := vb.block.Hash
	if e, ok := s.index[hash]; ok {
		if e.status == store.BlockStatusInvalid {
			return false, errors.Wrapf(ErrUnvalidatedBlock, "block %x was rejected", hash[:])
		}
		return false, nil
	}
	parent, ok := s.index[vb.block.Header.PrevBlockHash]
	if !ok || parent.status != store.BlockStatusValid || parent.height+1 != vb.height {
		return false, errors.Wrapf(ErrUnvalidatedBlock, "block %x does not extend a valid parent", hash[:])
	}
	work, err := consensus.ExtendWork(parent.work, vb.block.Header.Target)
	if err != nil {
		return false, errors.Wrap(ErrUnvalidatedBlock, err.Error())
	}

	e := &blockIndexEntry{
		hash:        hash,
		prev:        parent.hash,
		height:      vb.height,
		header:      vb.block.Header,
		headerBytes: vb.block.HeaderBytes,
		raw:         vb.raw,
		work:        work,
		status:      store.BlockStatusValid,
		commitments: vb.commitments,
	}
	if err := s.persistValid(e); err != nil {
		return false, err
	}
	s.index[hash] = e

	if !consensus.MoreWork(e.work, s.tip.work) {
		return false, nil
	}
	if s.db != nil {
		if err := s.db.SetTip(hash); err != nil {
			return false, err
		}
	}
	s.setTip(e)
	return true, nil
}

// RejectBlock records blk as invalid so it is never validated again. The
// tip is not touched.
func (s *ChainState) RejectBlock(blk *consensus.Block, code consensus.ErrorCode) error {
	if blk == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[blk.Hash]; ok {
		return nil
	}
	var height uint64
	if p, ok := s.index[blk.Header.PrevBlockHash]; ok {
		height = p.height + 1
	}
	e := &blockIndexEntry{
		hash:        blk.Hash,
		prev:        blk.Header.PrevBlockHash,
		height:      height,
		header:      blk.Header,
		headerBytes: blk.HeaderBytes,
		work:        new(big.Int),
		status:      store.BlockStatusInvalid,
		reason:      code,
	}
	if s.db != nil {
		err := s.db.PutInvalidBlock(e.hash, e.headerBytes, store.BlockIndexEntry{
			Height:         e.height,
			PrevHash:       e.prev,
			CumulativeWork: e.work,
			Status:         e.status,
			Reason:         string(code),
		})
		if err != nil {
			return err
		}
	}
	s.index[e.hash] = e
	return nil
}

func (s *ChainState) persistValid(e *blockIndexEntry) error {
	if s.db == nil {
		return nil
	}
	return s.db.PutValidBlock(e.hash, e.headerBytes, e.raw, store.BlockIndexEntry{
		Height:         e.height,
		PrevHash:       e.prev,
		CumulativeWork: e.work,
		Status:         e.status,
	})
}
