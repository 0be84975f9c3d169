package node

import (
	"github.com/pkg/errors"

	"dcnode.dev/node/consensus"
)

// Wire magic per network. Nodes on different networks fail the envelope
// check before the handshake completes.
var networkMagics = map[string]uint32{
	"mainnet": 0xd1c4a1e5,
	"testnet": 0xd1c4b2f6,
	"devnet":  0xd1c4c307,
	"regtest": 0xd1c4d418,
}

const genesisTimestamp = 1_700_000_000

// NetworkMagic returns the envelope magic for network.
func NetworkMagic(network string) (uint32, error) {
	m, ok := networkMagics[network]
	if !ok {
		return 0, errors.Errorf("unknown network %q", network)
	}
	return m, nil
}

// DefaultTarget is the constant PoW target of network. Only mainnet is
// harder than POW_LIMIT.
func DefaultTarget(network string) [32]byte {
	if network == "mainnet" {
		var t [32]byte
		for i := 2; i < len(t); i++ {
			t[i] = 0xff
		}
		return t
	}
	return consensus.POW_LIMIT
}

// GenesisBlock builds the deterministic height-0 block of network. Its
// coinbase names the network, so every network has a distinct genesis hash.
// The genesis header is never PoW-checked.
func GenesisBlock(network string, target [32]byte) *consensus.Block {
	coinbase := &consensus.Tx{
		Version: 1,
		Inputs: []consensus.TxInput{{
			PrevVout:  consensus.TX_COINBASE_PREVOUT_VOUT,
			ScriptSig: append([]byte("dcnode genesis "), network...),
			Sequence:  ^uint32(0),
		}},
		Outputs: []consensus.TxOutput{{
			Value:  0,
			Script: []byte{consensus.OP_RETURN},
		}},
	}
	header := consensus.BlockHeader{
		Version:   1,
		Timestamp: genesisTimestamp,
		Target:    target,
	}
	header.MerkleRoot, _ = consensus.MerkleRootTxids([][32]byte{consensus.TxID(coinbase)})
	return consensus.NewBlock(header, []*consensus.Tx{coinbase})
}
