package mediastore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"
)

// Slot is a pending entry together with its open write descriptor.
type Slot struct {
	store *Store
	entry Entry

	mu     sync.Mutex
	file   *os.File
	closed bool
	done   bool
}

// ID returns the entry id.
func (s *Slot) ID() string { return s.entry.ID }

// Entry returns the entry as it was inserted.
func (s *Slot) Entry() Entry { return s.entry }

// Path returns the absolute path of the backing file.
func (s *Slot) Path() string { return s.store.Path(s.entry) }

// Descriptor returns the writable file. It stays valid until Close.
func (s *Slot) Descriptor() *os.File { return s.file }

// Close closes the descriptor. Closing twice is a no-op.
func (s *Slot) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close descriptor: %w", err)
	}
	return nil
}

// Publish marks the entry visible, recording the final file size.
// The descriptor must already be closed. A failed publish may be retried.
func (s *Slot) Publish(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.mu.Unlock()
		return ErrDescriptorOpen
	}
	if s.done {
		s.mu.Unlock()
		return ErrNotPending
	}
	s.done = true
	s.mu.Unlock()

	err := s.publish(ctx)
	if err != nil {
		s.mu.Lock()
		s.done = false
		s.mu.Unlock()
	}
	return err
}

func (s *Slot) publish(ctx context.Context) error {
	info, err := os.Stat(s.Path())
	if err != nil {
		return fmt.Errorf("stat media file: %w", err)
	}
	if err := s.store.markVisible(ctx, s.entry.ID, info.Size()); err != nil {
		return fmt.Errorf("publish %s: %w", s.entry.ID, err)
	}
	return nil
}

// Discard closes the descriptor if needed and removes both the row and the
// file. The entry never becomes visible.
func (s *Slot) Discard(ctx context.Context) error {
	var err error
	s.mu.Lock()
	closeFile := !s.closed
	s.closed = true
	alreadyDone := s.done
	s.done = true
	s.mu.Unlock()

	if closeFile {
		err = multierr.Append(err, s.file.Close())
	}
	if alreadyDone {
		return err
	}
	err = multierr.Append(err, s.store.delete(ctx, s.entry.ID))
	if rmErr := os.Remove(s.Path()); rmErr != nil && !os.IsNotExist(rmErr) {
		err = multierr.Append(err, rmErr)
	}
	return err
}
