package editor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/api/internal/blocks"
	"folio/api/internal/reorder"
)

// fakeBackend keeps a page in memory and numbers blocks the way the server
// does. Rows of an unsupported type keep their stored position but are left
// out of every list it returns.
type fakeBackend struct {
	list     []blocks.Block
	next     int
	fail     error
	fetches  int
	reorders int
	gate     chan struct{}
}

func (f *fakeBackend) snapshot() []blocks.Block {
	f.list = reorder.Renumber(f.list)
	out := make([]blocks.Block, 0, len(f.list))
	for _, block := range f.list {
		if _, hidden := block.Payload.(blocks.Unknown); !hidden {
			out = append(out, block)
		}
	}
	return out
}

func (f *fakeBackend) Fetch(context.Context) ([]blocks.Block, error) {
	f.fetches++
	return f.snapshot(), nil
}

func (f *fakeBackend) Reorder(_ context.Context, blockID string, newOrder int) error {
	f.reorders++
	moved, err := reorder.Reposition(f.list, blockID, newOrder)
	if err != nil {
		return err
	}
	f.list = moved
	return nil
}

func (f *fakeBackend) AddBlock(_ context.Context, input blocks.Input) ([]blocks.Block, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.fail != nil {
		return nil, f.fail
	}
	f.next++
	block := blocks.Block{ID: fmt.Sprintf("new-%d", f.next)}
	switch input.Type {
	case blocks.KindText:
		block.Payload = blocks.TextPayload{Text: *input.Text}
	default:
		block.Payload = blocks.Unknown{Type: string(input.Type)}
	}
	f.list = append(f.list, block)
	return f.snapshot(), nil
}

func (f *fakeBackend) UpdateBlock(_ context.Context, blockID string, patch blocks.Patch) ([]blocks.Block, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	idx := reorder.IndexOf(f.list, blockID)
	if idx < 0 {
		return nil, errors.New("not found")
	}
	if patch.Text != nil {
		f.list[idx].Payload = blocks.TextPayload{Text: *patch.Text}
	}
	return f.snapshot(), nil
}

func (f *fakeBackend) DeleteBlock(_ context.Context, blockID string) ([]blocks.Block, error) {
	idx := reorder.IndexOf(f.list, blockID)
	if idx < 0 {
		return nil, errors.New("not found")
	}
	f.list = append(f.list[:idx], f.list[idx+1:]...)
	return f.snapshot(), nil
}

func text(s string) *string { return &s }

func seeded() *fakeBackend {
	return &fakeBackend{list: []blocks.Block{
		{ID: "a", Payload: blocks.TextPayload{Text: "A"}},
		{ID: "b", Payload: blocks.TextPayload{Text: "B"}},
		{ID: "c", Payload: blocks.TextPayload{Text: "C"}},
	}}
}

func ids(list []blocks.Block) []string {
	out := make([]string, 0, len(list))
	for _, b := range list {
		out = append(out, b.ID)
	}
	return out
}

func TestAddTextThroughDialog(t *testing.T) {
	backend := seeded()
	session, err := Open(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, ModalNone{}, session.Modal())

	modal, ok := AddModal(blocks.KindText)
	require.True(t, ok)
	require.NoError(t, session.Show(modal))
	require.NoError(t, session.SubmitAdd(context.Background(), blocks.Input{Text: text("D")}))

	assert.Equal(t, []string{"a", "b", "c", "new-1"}, ids(session.Blocks()))
	assert.Equal(t, 4, session.Blocks()[3].Order)
	assert.Equal(t, ModalNone{}, session.Modal())
}

func TestSubmitWithoutDialog(t *testing.T) {
	session, err := Open(context.Background(), seeded())
	require.NoError(t, err)
	assert.ErrorIs(t, session.SubmitAdd(context.Background(), blocks.Input{Type: blocks.KindText, Text: text("x")}), ErrNoModal)
	assert.ErrorIs(t, session.SubmitEdit(context.Background(), blocks.Patch{Text: text("x")}), ErrNoModal)
}

func TestSubmitRejectsMismatchedKind(t *testing.T) {
	session, err := Open(context.Background(), seeded())
	require.NoError(t, err)
	require.NoError(t, session.Show(ModalAddLink{}))
	err = session.SubmitAdd(context.Background(), blocks.Input{Type: blocks.KindText, Text: text("x")})
	assert.ErrorIs(t, err, ErrWrongInput)
	assert.Equal(t, ModalAddLink{}, session.Modal())
}

func TestEditBlockRequiresKnownBlock(t *testing.T) {
	backend := seeded()
	session, err := Open(context.Background(), backend)
	require.NoError(t, err)

	assert.ErrorIs(t, session.Show(ModalEditBlock{ID: "zzz"}), ErrUnknownBlock)

	require.NoError(t, session.Show(ModalEditBlock{ID: "b"}))
	require.NoError(t, session.SubmitEdit(context.Background(), blocks.Patch{Text: text("B2")}))
	assert.Equal(t, blocks.TextPayload{Text: "B2"}, session.Blocks()[1].Payload)
	assert.Equal(t, ModalNone{}, session.Modal())
}

func TestDeleteClosesEditDialogForThatBlock(t *testing.T) {
	session, err := Open(context.Background(), seeded())
	require.NoError(t, err)
	require.NoError(t, session.Show(ModalEditBlock{ID: "b"}))

	require.NoError(t, session.Delete(context.Background(), "b"))
	assert.Equal(t, []string{"a", "c"}, ids(session.Blocks()))
	assert.Equal(t, []int{1, 2}, reorder.Orders(session.Blocks()))
	assert.Equal(t, ModalNone{}, session.Modal())
}

func TestFailedWriteRefetches(t *testing.T) {
	backend := seeded()
	session, err := Open(context.Background(), backend)
	require.NoError(t, err)
	before := backend.fetches

	backend.fail = errors.New("insert failed")
	require.NoError(t, session.Show(ModalAddText{}))
	err = session.SubmitAdd(context.Background(), blocks.Input{Text: text("x")})
	require.Error(t, err)
	assert.Equal(t, before+1, backend.fetches)
	assert.Equal(t, []string{"a", "b", "c"}, ids(session.Blocks()))
	assert.Equal(t, ModalAddText{}, session.Modal())
	assert.False(t, session.Saving())
}

func TestSavingGateBlocksReentry(t *testing.T) {
	backend := seeded()
	backend.gate = make(chan struct{})
	session, err := Open(context.Background(), backend)
	require.NoError(t, err)
	require.NoError(t, session.Show(ModalAddText{}))

	done := make(chan error, 1)
	go func() { done <- session.SubmitAdd(context.Background(), blocks.Input{Text: text("slow")}) }()
	require.Eventually(t, session.Saving, time.Second, time.Millisecond)

	assert.ErrorIs(t, session.SubmitAdd(context.Background(), blocks.Input{Text: text("again")}), ErrSaving)
	assert.ErrorIs(t, session.Move(context.Background(), 0, 1), ErrSaving)
	assert.ErrorIs(t, session.Show(ModalAddImage{}), ErrSaving)

	close(backend.gate)
	require.NoError(t, <-done)
	assert.Len(t, session.Blocks(), 4)
}

func TestMovePersistsAndRefetches(t *testing.T) {
	backend := seeded()
	session, err := Open(context.Background(), backend)
	require.NoError(t, err)

	require.NoError(t, session.Move(context.Background(), 2, 0))
	assert.Equal(t, 1, backend.reorders)
	assert.Equal(t, []string{"c", "a", "b"}, ids(session.Blocks()))

	require.NoError(t, session.Move(context.Background(), 1, 1))
	assert.Equal(t, 1, backend.reorders)

	assert.ErrorIs(t, session.Move(context.Background(), 0, 9), reorder.ErrIndexOutOfRange)
	assert.Equal(t, reorder.Idle, session.board.State())
}

func TestMoveAroundUnsupportedBlock(t *testing.T) {
	backend := seeded()
	backend.list[1].Payload = blocks.Unknown{Type: "unsupported_future_type"}
	session, err := Open(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(session.Blocks()))
	assert.Equal(t, []int{1, 3}, reorder.Orders(session.Blocks()))

	require.NoError(t, session.Move(context.Background(), 1, 0))
	assert.Equal(t, 1, backend.reorders)
	assert.Equal(t, []string{"c", "a"}, ids(session.Blocks()))
	assert.Equal(t, []string{"c", "a", "b"}, ids(backend.list))
	assert.True(t, reorder.Dense(reorder.Orders(backend.list)))

	require.NoError(t, session.Move(context.Background(), 0, 1))
	assert.Equal(t, []string{"a", "c"}, ids(session.Blocks()))
	assert.Equal(t, []string{"a", "c", "b"}, ids(backend.list))
	assert.True(t, reorder.Dense(reorder.Orders(backend.list)))
}
