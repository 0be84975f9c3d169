package consensus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommitments_Empty(t *testing.T) {
	assert.True(t, ValidateCommitments(nil, nil).IsValid())
	assert.True(t, ValidateCommitments(CommitmentSet{}, nil).IsValid())
}

func TestValidateCommitments_DistinctIDsIdenticalPayloads(t *testing.T) {
	set := CommitmentSet{
		{DrivechainID: []byte{0x10}, Payload: []byte{OP_0}},
		{DrivechainID: []byte{0x11}, Payload: []byte{OP_0}},
		{DrivechainID: []byte{0x12}, Payload: []byte{OP_0}},
	}
	assert.True(t, ValidateCommitments(set, nil).IsValid())
}

func TestValidateCommitments_Duplicate(t *testing.T) {
	cases := []struct {
		name string
		set  CommitmentSet
		want []byte
	}{
		{
			name: "identical_payloads",
			set: CommitmentSet{
				{DrivechainID: []byte{0x20}, Payload: []byte{OP_0}},
				{DrivechainID: []byte{0x20}, Payload: []byte{OP_0}},
			},
			want: []byte{0x20},
		},
		{
			name: "different_payloads",
			set: CommitmentSet{
				{DrivechainID: []byte{0x20}, Payload: []byte{0x01, 0x01}},
				{DrivechainID: []byte{0x20}, Payload: []byte{0x01, 0x02}},
			},
			want: []byte{0x20},
		},
		{
			name: "triple",
			set: CommitmentSet{
				{DrivechainID: []byte{0x20}, Payload: []byte{OP_0}},
				{DrivechainID: []byte{0x20}, Payload: []byte{OP_0}},
				{DrivechainID: []byte{0x20}, Payload: []byte{OP_0}},
			},
			want: []byte{0x20},
		},
		{
			name: "first_in_set_order",
			set: CommitmentSet{
				{DrivechainID: []byte{0x30}, Payload: []byte{OP_0}},
				{DrivechainID: []byte{0x31}, Payload: []byte{OP_0}},
				{DrivechainID: []byte{0x31}, Payload: []byte{OP_0}},
				{DrivechainID: []byte{0x30}, Payload: []byte{OP_0}},
			},
			want: []byte{0x30},
		},
		{
			name: "duplicate_wins_over_malformed",
			set: CommitmentSet{
				{DrivechainID: []byte{0x40}, Payload: nil},
				{DrivechainID: []byte{0x41}, Payload: []byte{OP_0}},
				{DrivechainID: []byte{0x41}, Payload: []byte{OP_0}},
			},
			want: []byte{0x41},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateCommitments(tc.set, nil)
			require.False(t, res.IsValid())
			assert.Equal(t, BLOCK_ERR_COMMITMENT_DUPLICATE, res.Code())
			assert.Equal(t, "bad-chain-commitment", res.RejectReason())

			var ce *CommitmentError
			require.True(t, errors.As(res.Err(), &ce))
			assert.Equal(t, tc.want, ce.DrivechainID)
		})
	}
}

func TestValidateCommitments_Malformed(t *testing.T) {
	var h [32]byte
	cases := []struct {
		name string
		c    Commitment
	}{
		{"empty_opaque", Commitment{DrivechainID: []byte{0x77}}},
		{"oversized_opaque", Commitment{DrivechainID: []byte{0x77}, Payload: bytesOf(0x01, DefaultMaxPayloadBytes+1)}},
		{"registered_bad_hstar", Commitment{DrivechainID: []byte{SIDECHAIN_HIVEMIND}, Payload: []byte{OP_0}}},
		{"registered_trailing", Commitment{DrivechainID: []byte{SIDECHAIN_TEST}, Payload: append(EncodeCriticalHash(5, h), OP_0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateCommitments(CommitmentSet{tc.c}, nil)
			require.False(t, res.IsValid())
			assert.Equal(t, BLOCK_ERR_COMMITMENT_MALFORMED, res.Code())
			var ce *CommitmentError
			require.True(t, errors.As(res.Err(), &ce))
			assert.Equal(t, tc.c.DrivechainID, ce.DrivechainID)
			assert.Error(t, errors.Unwrap(ce))
		})
	}
}

func TestValidateCommitments_RegisteredCriticalHash(t *testing.T) {
	var h [32]byte
	h[31] = 0x01
	set := CommitmentSet{
		{DrivechainID: []byte{SIDECHAIN_TEST}, Payload: EncodeCriticalHash(1, h)},
		{DrivechainID: []byte{SIDECHAIN_HIVEMIND}, Payload: EncodeCriticalHash(0xffffffff, h)},
		{DrivechainID: []byte{SIDECHAIN_WIMBLE}, Payload: EncodeCriticalHash(2600, h)},
	}
	assert.True(t, ValidateCommitments(set, DefaultDrivechainRegistry()).IsValid())
}

// Validity depends only on the multiset of ids and per-id payloads, so any
// permutation of a set agrees on validity and code.
func TestValidateCommitments_PermutationStable(t *testing.T) {
	set := CommitmentSet{
		{DrivechainID: []byte{0x50}, Payload: []byte{OP_0}},
		{DrivechainID: []byte{0x51}, Payload: []byte{OP_0}},
		{DrivechainID: []byte{0x50}, Payload: []byte{OP_0}},
	}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		shuffled := CommitmentSet{set[p[0]], set[p[1]], set[p[2]]}
		res := ValidateCommitments(shuffled, nil)
		assert.False(t, res.IsValid())
		assert.Equal(t, BLOCK_ERR_COMMITMENT_DUPLICATE, res.Code())
	}
}
