// Package store holds the authoritative in-memory copy of the lists and
// users documents and persists every change through a
// repository.DocumentRepository.
//
// Reads are served from the committed snapshot and never wait on storage
// I/O. Mutations are closures handed to UpdateLists/UpdateUsers; they run
// one at a time on the run-queue against a private copy, and the copy only
// becomes the committed snapshot after it was written successfully.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/metrics"
	"github.com/sakif/shared-lists/internal/repository"
	"github.com/sakif/shared-lists/internal/runqueue"
)

// errCorrupt marks a document whose content could not be decoded.
var errCorrupt = errors.New("store: corrupt document")

type Options struct {
	// FailOnCorrupt makes Open fail on an undecodable document instead of
	// logging it and starting from an empty collection.
	FailOnCorrupt bool

	// QueueSize is the number of mutations that may wait for the run-queue.
	QueueSize int

	Metrics *metrics.Metrics

	// Now is the clock used for updatedAt/lastSeen. Defaults to time.Now.
	Now func() time.Time
}

type Store struct {
	repo    repository.DocumentRepository
	queue   *runqueue.Queue
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	mu          sync.RWMutex
	lists       listsDoc
	listsLoaded bool
	// migrated names legacy lists that were already resolved to the
	// wrapped shape. It only ever grows.
	migrated    map[string]bool
	users       usersDoc
	usersLoaded bool

	// Entries that could not be decoded, kept verbatim until a write
	// replaces them. Reads don't see them.
	skippedLists map[string]json.RawMessage
	skippedUsers map[string]json.RawMessage
}

// Open loads both documents from repo and starts the run-queue.
//
// A missing document is an empty collection. A document that cannot be
// read is retried on the next access; one that cannot be decoded is
// treated as empty unless opts.FailOnCorrupt is set.
func Open(ctx context.Context, repo repository.DocumentRepository, logger *slog.Logger, opts Options) (*Store, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		repo:     repo,
		logger:   logger,
		metrics:  opts.Metrics,
		opts:     opts,
		now:      now,
		lists:    listsDoc{},
		migrated: map[string]bool{},
		users:    usersDoc{},
	}

	if err := s.ensureLists(ctx); err != nil {
		if errors.Is(err, errCorrupt) {
			return nil, err
		}
		logger.Warn("lists document not loaded, will retry", slog.String("error", err.Error()))
	}
	if err := s.ensureUsers(ctx); err != nil {
		if errors.Is(err, errCorrupt) {
			return nil, err
		}
		logger.Warn("users document not loaded, will retry", slog.String("error", err.Error()))
	}

	s.queue = runqueue.New(logger, opts.QueueSize, opts.Metrics)
	return s, nil
}

// Close waits for accepted mutations to finish and closes the repository.
func (s *Store) Close() error {
	s.queue.Close()
	if err := s.repo.Close(); err != nil {
		return fmt.Errorf("store: closing repository: %w", err)
	}
	return nil
}

// load reads doc and hands its content to decode. A missing or empty
// document leaves decode uncalled. Undecodable content yields an
// errCorrupt-wrapped error when FailOnCorrupt is set and errResetEmpty
// otherwise; a failed read yields a storage error.
func (s *Store) load(ctx context.Context, doc string, decode func([]byte) error) error {
	data, err := s.repo.Read(ctx, doc)
	if errors.Is(err, repository.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperror.StorageFailed("read", err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := decode(data); err != nil {
		if s.opts.FailOnCorrupt {
			return fmt.Errorf("%w %s: %w", errCorrupt, doc, err)
		}
		s.logger.Error("document is corrupt, starting empty",
			slog.String("doc", doc),
			slog.String("error", err.Error()),
		)
		return errResetEmpty
	}
	return nil
}

// errResetEmpty is returned by load when a corrupt document was discarded.
var errResetEmpty = errors.New("store: document reset to empty")

func (s *Store) ensureLists(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.listsLoaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	doc := listsDoc{}
	var skipped map[string]json.RawMessage
	err := s.load(ctx, repository.DocLists, func(data []byte) error {
		d, sk, err := decodeLists(data)
		if err != nil {
			return err
		}
		doc, skipped = d, sk
		return nil
	})
	if err != nil && !errors.Is(err, errResetEmpty) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent loader may have won; its snapshot may already carry
	// committed mutations.
	if !s.listsLoaded {
		s.lists = doc
		s.skippedLists = skipped
		s.listsLoaded = true
		s.warnSkipped(repository.DocLists, skipped)
	}
	return nil
}

func (s *Store) ensureUsers(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.usersLoaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	doc := usersDoc{}
	var skipped map[string]json.RawMessage
	err := s.load(ctx, repository.DocUsers, func(data []byte) error {
		d, sk, err := decodeUsers(data)
		if err != nil {
			return err
		}
		doc, skipped = d, sk
		return nil
	})
	if err != nil && !errors.Is(err, errResetEmpty) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.usersLoaded {
		s.users = doc
		s.skippedUsers = skipped
		s.usersLoaded = true
		s.warnSkipped(repository.DocUsers, skipped)
	}
	return nil
}

func (s *Store) warnSkipped(doc string, skipped map[string]json.RawMessage) {
	for key, raw := range skipped {
		s.logger.Warn("skipping unreadable entry, it is kept as stored",
			slog.String("doc", doc),
			slog.String("key", key),
			slog.Int("bytes", len(raw)),
		)
	}
}

// persist writes an encoded document and records how long it took.
func (s *Store) persist(ctx context.Context, doc string, data []byte) error {
	start := time.Now()
	err := s.repo.Write(ctx, doc, data)
	s.metrics.StoreWrite(doc, time.Since(start))
	if err != nil {
		s.logger.Error("failed to persist document",
			slog.String("doc", doc),
			slog.String("error", err.Error()),
		)
		return apperror.StorageFailed("write", err)
	}
	return nil
}

// UpdateLists runs fn against a private copy of the lists document on the
// run-queue. The copy is persisted and committed only if fn returns nil and
// the write succeeds; otherwise the committed snapshot is unchanged.
func (s *Store) UpdateLists(ctx context.Context, fn func(tx *ListsTx) error) error {
	return s.queue.Run(ctx, func(ctx context.Context) error {
		if err := s.ensureLists(ctx); err != nil {
			return err
		}

		tx := s.beginLists()
		if err := fn(tx); err != nil {
			return err
		}

		data, err := s.encodeLists(tx.doc)
		if err != nil {
			return fmt.Errorf("store: encoding lists: %w", err)
		}
		if err := s.persist(ctx, repository.DocLists, data); err != nil {
			return err
		}

		s.commitLists(tx)
		return nil
	})
}

// UpdateUsers is UpdateLists for the users document.
func (s *Store) UpdateUsers(ctx context.Context, fn func(tx *UsersTx) error) error {
	return s.queue.Run(ctx, func(ctx context.Context) error {
		if err := s.ensureUsers(ctx); err != nil {
			return err
		}

		tx := s.beginUsers()
		if err := fn(tx); err != nil {
			return err
		}

		data, err := s.encodeUsers(tx.doc)
		if err != nil {
			return fmt.Errorf("store: encoding users: %w", err)
		}
		if err := s.persist(ctx, repository.DocUsers, data); err != nil {
			return err
		}

		s.mu.Lock()
		s.users = tx.doc
		for name := range s.skippedUsers {
			if _, ok := s.users[name]; ok {
				delete(s.skippedUsers, name)
			}
		}
		s.mu.Unlock()
		return nil
	})
}
