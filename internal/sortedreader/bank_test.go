package sortedreader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellBankStateTransitions(t *testing.T) {
	b := newCellBank()
	require.Equal(t, slabNew, b.State())

	b.markPrefetching()
	require.Equal(t, slabPrefetching, b.State())

	b.fillResult([]cellRecord{{}, {}}, nil)
	require.Equal(t, slabCopying, b.State())

	b.cursor = 2
	require.Equal(t, slabDone, b.State())
}

func TestCellBankStateErrored(t *testing.T) {
	b := newCellBank()
	b.fillResult(nil, errors.New("boom"))
	require.Equal(t, slabErrored, b.State())
}

func TestCellBankStateEmptyFillIsDone(t *testing.T) {
	b := newCellBank()
	b.fillResult(nil, nil)
	require.Equal(t, slabDone, b.State())
}
