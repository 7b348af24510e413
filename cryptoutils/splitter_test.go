package cryptoutils

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// kSubsets enumerates all k-element index subsets of {0..n-1}.
func kSubsets(n, k int) [][]int {
	var out [][]int
	var walk func(start int, picked []int)
	walk = func(start int, picked []int) {
		if len(picked) == k {
			subset := make([]int, k)
			copy(subset, picked)
			out = append(out, subset)
			return
		}
		for i := start; i < n; i++ {
			walk(i+1, append(picked, i))
		}
	}
	walk(0, nil)
	return out
}

func TestNewSplitterValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		total     int
	}{
		{"threshold below two", 1, 3},
		{"zero threshold", 0, 5},
		{"total below threshold", 3, 2},
		{"total above 255", 2, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.threshold, tt.total)
			require.Error(t, err)
			require.ErrorIs(t, err, interfaces.ErrInvalidParameters)
		})
	}

	s, err := NewSplitter(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Threshold())
	assert.Equal(t, 3, s.Total())
}

func TestSplitEmptySecret(t *testing.T) {
	s, err := NewSplitter(2, 3)
	require.NoError(t, err)

	_, err = s.Split(nil)
	require.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}

// TestCombineEverySubset verifies that any K-subset of shares reconstructs
// the original secret, independent of which shares are chosen.
func TestCombineEverySubset(t *testing.T) {
	params := []struct {
		threshold int
		total     int
	}{
		{2, 3},
		{3, 5},
		{2, 2},
	}

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	for _, p := range params {
		t.Run(fmt.Sprintf("%d-of-%d", p.threshold, p.total), func(t *testing.T) {
			splitter, err := NewSplitter(p.threshold, p.total)
			require.NoError(t, err)

			shares, err := splitter.Split(secret)
			require.NoError(t, err)
			require.Len(t, shares, p.total)

			for _, subset := range kSubsets(p.total, p.threshold) {
				picked := make([][]byte, 0, p.threshold)
				for _, i := range subset {
					picked = append(picked, shares[i])
				}

				recovered, err := splitter.Combine(picked)
				require.NoError(t, err, "subset %v must reconstruct", subset)
				require.Equal(t, secret, recovered, "subset %v returned a different secret", subset)
			}
		})
	}
}

func TestCombineShareOrderIrrelevant(t *testing.T) {
	splitter, err := NewSplitter(3, 5)
	require.NoError(t, err)

	secret := []byte("the owner's wallet recovery phrase")
	shares, err := splitter.Split(secret)
	require.NoError(t, err)

	// Reverse order of a full share set
	reversed := make([][]byte, len(shares))
	for i, s := range shares {
		reversed[len(shares)-1-i] = s
	}

	recovered, err := splitter.Combine(reversed)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestCombineInsufficientShares(t *testing.T) {
	splitter, err := NewSplitter(3, 5)
	require.NoError(t, err)

	shares, err := splitter.Split([]byte("some secret"))
	require.NoError(t, err)

	// One fewer than threshold must fail deterministically, not return garbage.
	_, err = splitter.Combine(shares[:2])
	require.ErrorIs(t, err, interfaces.ErrInsufficientShares)

	_, err = splitter.Combine(nil)
	require.ErrorIs(t, err, interfaces.ErrInsufficientShares)
}

func TestCombineCorruptedShare(t *testing.T) {
	splitter, err := NewSplitter(2, 3)
	require.NoError(t, err)

	secret := make([]byte, 64)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	shares, err := splitter.Split(secret)
	require.NoError(t, err)

	// Flip a payload byte in one share
	shares[0][0] ^= 0xff

	_, err = splitter.Combine(shares[:2])
	require.Error(t, err)
	require.ErrorIs(t, err, interfaces.ErrReconstructionFailed)
}

func TestCombineSharesFromDifferentSplits(t *testing.T) {
	splitter, err := NewSplitter(2, 3)
	require.NoError(t, err)

	sharesA, err := splitter.Split([]byte("first secret value"))
	require.NoError(t, err)
	sharesB, err := splitter.Split([]byte("second secret value"))
	require.NoError(t, err)

	_, err = splitter.Combine([][]byte{sharesA[0], sharesB[1]})
	require.ErrorIs(t, err, interfaces.ErrReconstructionFailed)
}

func TestCombineDuplicateShares(t *testing.T) {
	splitter, err := NewSplitter(2, 3)
	require.NoError(t, err)

	shares, err := splitter.Split([]byte("secret"))
	require.NoError(t, err)

	_, err = splitter.Combine([][]byte{shares[0], shares[0]})
	require.ErrorIs(t, err, interfaces.ErrReconstructionFailed)
}
