package reorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"folio/api/internal/blocks"
)

var (
	ErrInvalidTransition = errors.New("invalid drag transition")
	ErrBusy              = errors.New("a reorder is already being saved")
)

type State int

const (
	Idle State = iota
	Dragging
	Hovering
	Dropped
	Persisting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Hovering:
		return "hovering"
	case Dropped:
		return "dropped"
	case Persisting:
		return "persisting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Persister writes a single move and reads the authoritative list back.
type Persister interface {
	Reorder(ctx context.Context, blockID string, newOrder int) error
	Fetch(ctx context.Context) ([]blocks.Block, error)
}

// Board tracks one page's block order during drag and drop. confirmed is the
// last list the server returned; view is what the user currently sees and
// may run ahead of confirmed while a move is being saved.
type Board struct {
	mu        sync.Mutex
	persister Persister
	state     State
	confirmed []blocks.Block
	view      []blocks.Block
	source    int
	target    int
}

func NewBoard(p Persister, initial []blocks.Block) *Board {
	return &Board{
		persister: p,
		confirmed: clone(initial),
		view:      clone(initial),
		source:    -1,
		target:    -1,
	}
}

func clone(list []blocks.Block) []blocks.Block {
	out := make([]blocks.Block, len(list))
	copy(out, list)
	return out
}

func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Board) View() []blocks.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	return clone(b.view)
}

func (b *Board) Confirmed() []blocks.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	return clone(b.confirmed)
}

// Load replaces both lists, e.g. after another write refetched the page.
func (b *Board) Load(list []blocks.Block) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Persisting {
		return ErrBusy
	}
	b.confirmed = clone(list)
	b.view = clone(list)
	b.reset()
	return nil
}

func (b *Board) reset() {
	b.state = Idle
	b.source = -1
	b.target = -1
}

// Begin picks up the block at source.
func (b *Board) Begin(source int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Persisting:
		return ErrBusy
	case Idle:
	default:
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, b.state)
	}
	if source < 0 || source >= len(b.view) {
		return fmt.Errorf("%w: source %d of %d", ErrIndexOutOfRange, source, len(b.view))
	}
	b.state = Dragging
	b.source = source
	b.target = source
	return nil
}

// Hover records the slot the dragged block is over.
func (b *Board) Hover(target int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Dragging && b.state != Hovering {
		return fmt.Errorf("%w: hover from %s", ErrInvalidTransition, b.state)
	}
	if target < 0 || target >= len(b.view) {
		return fmt.Errorf("%w: target %d of %d", ErrIndexOutOfRange, target, len(b.view))
	}
	b.state = Hovering
	b.target = target
	return nil
}

// Cancel abandons a drag without touching the store.
func (b *Board) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Dragging && b.state != Hovering {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, b.state)
	}
	b.reset()
	return nil
}

// Drop finishes the drag. Dropping a block on its own slot returns without
// calling the persister. Otherwise the view is updated at once, the move is
// written, and the page is refetched whether or not the write succeeded.
// A failed write returns its error after the view has been put back.
func (b *Board) Drop(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case Persisting:
		b.mu.Unlock()
		return ErrBusy
	case Dragging, Hovering:
	default:
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: drop from %s", ErrInvalidTransition, state)
	}
	if b.source == b.target {
		b.reset()
		b.mu.Unlock()
		return nil
	}

	b.state = Dropped
	blockID := b.view[b.source].ID
	moved, newOrder, err := Shift(b.view, b.source, b.target)
	if err != nil {
		b.reset()
		b.mu.Unlock()
		return err
	}
	b.view = moved
	b.state = Persisting
	b.mu.Unlock()

	writeErr := b.persister.Reorder(ctx, blockID, newOrder)
	fresh, fetchErr := b.persister.Fetch(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.reset()
	switch {
	case fetchErr == nil:
		b.confirmed = clone(fresh)
		b.view = clone(fresh)
	case writeErr != nil:
		b.view = clone(b.confirmed)
	default:
		// the write landed; keep the optimistic view as the new baseline
		b.confirmed = clone(b.view)
	}
	if writeErr != nil {
		return fmt.Errorf("persist reorder: %w", writeErr)
	}
	if fetchErr != nil {
		return fmt.Errorf("refetch blocks: %w", fetchErr)
	}
	return nil
}
