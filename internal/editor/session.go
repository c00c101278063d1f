// Package editor holds the client-side state of an owner editing one page:
// the block list, which dialog is open and whether a write is in flight.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"folio/api/internal/blocks"
	"folio/api/internal/reorder"
)

var (
	ErrSaving       = errors.New("a change is already being saved")
	ErrNoModal      = errors.New("no dialog is open")
	ErrWrongInput   = errors.New("input does not match the open dialog")
	ErrUnknownBlock = errors.New("block is not on this page")
)

// Modal is the single open dialog. The zero value of Session has ModalNone.
type Modal interface {
	modal()
}

type (
	ModalNone          struct{}
	ModalAddText       struct{}
	ModalAddImage      struct{}
	ModalAddLink       struct{}
	ModalAddRcmd       struct{}
	ModalAddCollection struct{}
	ModalEditBlock     struct{ ID string }
)

func (ModalNone) modal()          {}
func (ModalAddText) modal()       {}
func (ModalAddImage) modal()      {}
func (ModalAddLink) modal()       {}
func (ModalAddRcmd) modal()       {}
func (ModalAddCollection) modal() {}
func (ModalEditBlock) modal()     {}

// AddModal returns the add dialog for kind.
func AddModal(kind blocks.Kind) (Modal, bool) {
	switch kind {
	case blocks.KindText:
		return ModalAddText{}, true
	case blocks.KindImage:
		return ModalAddImage{}, true
	case blocks.KindLink:
		return ModalAddLink{}, true
	case blocks.KindRcmd:
		return ModalAddRcmd{}, true
	case blocks.KindCollection:
		return ModalAddCollection{}, true
	default:
		return nil, false
	}
}

func addKind(m Modal) (blocks.Kind, bool) {
	switch m.(type) {
	case ModalAddText:
		return blocks.KindText, true
	case ModalAddImage:
		return blocks.KindImage, true
	case ModalAddLink:
		return blocks.KindLink, true
	case ModalAddRcmd:
		return blocks.KindRcmd, true
	case ModalAddCollection:
		return blocks.KindCollection, true
	default:
		return "", false
	}
}

// Backend is the page-scoped API. Every write returns the page's blocks as
// stored after the write.
type Backend interface {
	reorder.Persister
	AddBlock(ctx context.Context, input blocks.Input) ([]blocks.Block, error)
	UpdateBlock(ctx context.Context, blockID string, patch blocks.Patch) ([]blocks.Block, error)
	DeleteBlock(ctx context.Context, blockID string) ([]blocks.Block, error)
}

type Session struct {
	mu      sync.Mutex
	backend Backend
	board   *reorder.Board
	modal   Modal
	saving  bool
}

// Open fetches the page and returns a session with no dialog open.
func Open(ctx context.Context, backend Backend) (*Session, error) {
	list, err := backend.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	return &Session{backend: backend, board: reorder.NewBoard(backend, list), modal: ModalNone{}}, nil
}

func (s *Session) Blocks() []blocks.Block {
	return s.board.View()
}

func (s *Session) Modal() Modal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal
}

func (s *Session) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving || s.board.State() == reorder.Persisting
}

// Show opens m, replacing whatever dialog was open. Editing requires the
// block to be on the page.
func (s *Session) Show(m Modal) error {
	if m == nil {
		m = ModalNone{}
	}
	if edit, ok := m.(ModalEditBlock); ok && reorder.IndexOf(s.board.View(), edit.ID) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, edit.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving {
		return ErrSaving
	}
	s.modal = m
	return nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modal = ModalNone{}
}

// SubmitAdd sends input for the open add dialog. input.Type defaults to the
// dialog's kind and must match it when set.
func (s *Session) SubmitAdd(ctx context.Context, input blocks.Input) error {
	return s.write(ctx, func(m Modal) (func() ([]blocks.Block, error), error) {
		kind, ok := addKind(m)
		if !ok {
			return nil, ErrNoModal
		}
		if input.Type == "" {
			input.Type = kind
		}
		if input.Type != kind {
			return nil, fmt.Errorf("%w: %s dialog got %s", ErrWrongInput, kind, input.Type)
		}
		if _, err := input.Validate(); err != nil {
			return nil, err
		}
		return func() ([]blocks.Block, error) { return s.backend.AddBlock(ctx, input) }, nil
	}, true)
}

// SubmitEdit sends patch for the block in the open edit dialog.
func (s *Session) SubmitEdit(ctx context.Context, patch blocks.Patch) error {
	return s.write(ctx, func(m Modal) (func() ([]blocks.Block, error), error) {
		edit, ok := m.(ModalEditBlock)
		if !ok {
			return nil, ErrNoModal
		}
		if patch.Empty() {
			return nil, fmt.Errorf("%w: empty patch", blocks.ErrInvalidInput)
		}
		return func() ([]blocks.Block, error) { return s.backend.UpdateBlock(ctx, edit.ID, patch) }, nil
	}, true)
}

// Delete removes a block. It does not need an open dialog and leaves the
// current one alone unless it was editing that block.
func (s *Session) Delete(ctx context.Context, blockID string) error {
	if reorder.IndexOf(s.board.View(), blockID) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, blockID)
	}
	return s.write(ctx, func(Modal) (func() ([]blocks.Block, error), error) {
		return func() ([]blocks.Block, error) { return s.backend.DeleteBlock(ctx, blockID) }, nil
	}, false)
}

// Move drags the block at from onto slot to and drops it.
func (s *Session) Move(ctx context.Context, from, to int) error {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return ErrSaving
	}
	s.mu.Unlock()

	if err := s.board.Begin(from); err != nil {
		return err
	}
	if err := s.board.Hover(to); err != nil {
		_ = s.board.Cancel()
		return err
	}
	return s.board.Drop(ctx)
}

// write runs one mutation with the saving gate held, then loads the list the
// server returned. On failure the page is refetched so the view never shows
// a guess.
func (s *Session) write(ctx context.Context, prepare func(Modal) (func() ([]blocks.Block, error), error), closeModal bool) error {
	s.mu.Lock()
	if s.saving || s.board.State() == reorder.Persisting {
		s.mu.Unlock()
		return ErrSaving
	}
	call, err := prepare(s.modal)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.saving = true
	s.mu.Unlock()

	list, err := call()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if err != nil {
		if fresh, ferr := s.backend.Fetch(ctx); ferr == nil {
			_ = s.board.Load(fresh)
		}
		return err
	}
	if loadErr := s.board.Load(list); loadErr != nil {
		return loadErr
	}
	if closeModal {
		s.modal = ModalNone{}
	} else if edit, ok := s.modal.(ModalEditBlock); ok && reorder.IndexOf(list, edit.ID) < 0 {
		s.modal = ModalNone{}
	}
	return nil
}
