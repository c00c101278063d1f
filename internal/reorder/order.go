// Package reorder implements drag-and-drop ordering for page blocks: pure
// list helpers and a Board that tracks a drag from start to persisted state.
package reorder

import (
	"errors"
	"fmt"

	"folio/api/internal/blocks"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrBlockNotFound   = errors.New("block not in list")
)

// Move returns a copy of list with the element at from spliced into to.
func Move[T any](list []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(list) {
		return nil, fmt.Errorf("%w: from %d of %d", ErrIndexOutOfRange, from, len(list))
	}
	if to < 0 || to >= len(list) {
		return nil, fmt.Errorf("%w: to %d of %d", ErrIndexOutOfRange, to, len(list))
	}
	out := make([]T, 0, len(list))
	out = append(out, list[:from]...)
	out = append(out, list[from+1:]...)
	moved := list[from]
	out = append(out[:to], append([]T{moved}, out[to:]...)...)
	return out, nil
}

// Renumber rewrites Order to 1..N following slice position.
func Renumber(list []blocks.Block) []blocks.Block {
	out := make([]blocks.Block, len(list))
	for i, block := range list {
		block.Order = i + 1
		out[i] = block
	}
	return out
}

// Dense reports whether orders, in any sequence, are exactly 1..N.
func Dense(orders []int) bool {
	seen := make([]bool, len(orders)+1)
	for _, order := range orders {
		if order < 1 || order > len(orders) || seen[order] {
			return false
		}
		seen[order] = true
	}
	return true
}

func Orders(list []blocks.Block) []int {
	out := make([]int, len(list))
	for i, block := range list {
		out[i] = block.Order
	}
	return out
}

func IndexOf(list []blocks.Block, blockID string) int {
	for i, block := range list {
		if block.ID == blockID {
			return i
		}
	}
	return -1
}

// Shift splices the block at from onto slot to and returns the stored
// position to send with the move: the Order of the block currently at to.
// Orders are stored positions and may skip rows the list does not show, so
// the result carries the positions the database holds once that block is
// moved there rather than a fresh 1..N.
func Shift(list []blocks.Block, from, to int) ([]blocks.Block, int, error) {
	moved, err := Move(list, from, to)
	if err != nil {
		return nil, 0, err
	}
	id, src, dst := list[from].ID, list[from].Order, list[to].Order
	for i := range moved {
		order := moved[i].Order
		switch {
		case moved[i].ID == id:
			moved[i].Order = dst
		case src < dst && order > src && order <= dst:
			moved[i].Order = order - 1
		case src > dst && order >= dst && order < src:
			moved[i].Order = order + 1
		}
	}
	return moved, dst, nil
}

// Reposition moves blockID to newOrder with the same rules the database
// applies: newOrder is clamped to [1, N] and the result is renumbered.
func Reposition(list []blocks.Block, blockID string, newOrder int) ([]blocks.Block, error) {
	from := IndexOf(list, blockID)
	if from < 0 {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}
	to := min(max(newOrder, 1), len(list)) - 1
	moved, err := Move(list, from, to)
	if err != nil {
		return nil, err
	}
	return Renumber(moved), nil
}
