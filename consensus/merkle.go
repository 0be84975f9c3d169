package consensus

const (
	merkleLeafTag byte = 0x00
	merkleNodeTag byte = 0x01
)

func merkleLeaf(txid [32]byte) [32]byte {
	return sha3_256(append([]byte{merkleLeafTag}, txid[:]...))
}

func merkleNode(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 65)
	buf = append(buf, merkleNodeTag)
	buf = append(buf, left[:]...)
	return sha3_256(append(buf, right[:]...))
}

// MerkleRootTxids returns the root a block header commits to for txids.
// Leaves and inner nodes hash under distinct tags; a trailing odd node
// carries up a level unchanged.
func MerkleRootTxids(txids [][32]byte) ([32]byte, error) {
	if len(txids) == 0 {
		return [32]byte{}, txerr(BLOCK_ERR_MERKLE_INVALID, "merkle: block has no transactions")
	}
	row := make([][32]byte, len(txids))
	for i, id := range txids {
		row[i] = merkleLeaf(id)
	}
	for n := len(row); n > 1; n = (n + 1) / 2 {
		for i := 0; i < n; i += 2 {
			if i+1 < n {
				row[i/2] = merkleNode(row[i], row[i+1])
			} else {
				row[i/2] = row[i]
			}
		}
	}
	return row[0], nil
}
