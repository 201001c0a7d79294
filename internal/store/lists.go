package store

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/model"
)

// listEntry is one value of the lists document. Older deployments stored a
// list as a bare array of items; such an entry keeps its raw bytes and
// decoded items until it is first touched, then becomes a wrapped list.
type listEntry struct {
	list *model.List // nil while the entry is still in the legacy shape

	raw   json.RawMessage
	items []model.Item
}

func (e *listEntry) legacy() bool { return e.list == nil }

// wrapped returns the entry as a List. Legacy items are copied.
func (e *listEntry) wrapped(name string) *model.List {
	if e.list != nil {
		return e.list
	}
	items := slices.Clone(e.items)
	if items == nil {
		items = []model.Item{}
	}
	return &model.List{Name: name, Items: items}
}

func (e *listEntry) summary(name string) model.ListSummary {
	var sum model.ListSummary
	if e.legacy() {
		sum = model.ListSummary{Name: name, ItemCount: len(e.items)}
	} else {
		sum = e.list.Summary()
	}
	if sum.DisplayName == "" {
		sum.DisplayName = name
	}
	return sum
}

type listsDoc map[string]*listEntry

// clone copies the map and every wrapped list. Legacy entries are never
// modified in place, so they are shared.
func (d listsDoc) clone() listsDoc {
	c := make(listsDoc, len(d))
	for name, e := range d {
		if e.legacy() {
			c[name] = e
			continue
		}
		c[name] = &listEntry{list: e.list.Clone()}
	}
	return c
}

// decodeLists parses the lists document. A list whose value can't be read
// (null, a string, a malformed item) is left out of doc and returned in
// skipped with its raw bytes, so the rest of the document stays usable and
// the next write carries the skipped value over unchanged.
func decodeLists(data []byte) (doc listsDoc, skipped map[string]json.RawMessage, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	doc = make(listsDoc, len(raw))
	for name, v := range raw {
		e, err := decodeListEntry(name, bytes.TrimSpace(v))
		if err != nil {
			if skipped == nil {
				skipped = make(map[string]json.RawMessage)
			}
			skipped[name] = v
			continue
		}
		doc[name] = e
	}
	return doc, skipped, nil
}

func decodeListEntry(name string, v json.RawMessage) (*listEntry, error) {
	switch {
	case len(v) == 0:
		return nil, errors.New("empty value")
	case v[0] == '[':
		var items []model.Item
		if err := json.Unmarshal(v, &items); err != nil {
			return nil, err
		}
		return &listEntry{raw: v, items: normalizeItems(items)}, nil
	case v[0] == '{':
		var l model.List
		if err := json.Unmarshal(v, &l); err != nil {
			return nil, err
		}
		l.Name = name
		l.Items = normalizeItems(l.Items)
		return &listEntry{list: &l}, nil
	case bytes.Equal(v, []byte("null")):
		return nil, errors.New("null value")
	default:
		return nil, errors.New("unexpected value")
	}
}

// normalizeItems drops null items and gives id-less items an id, so every
// stored item can be addressed.
func normalizeItems(items []model.Item) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if it.IsZero() {
			continue
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		out = append(out, it)
	}
	return out
}

// encodeLists writes legacy entries that were never touched as they were
// read, and every other entry in the wrapped shape. Skipped values are
// written back unless a list of the same name replaced them.
func (s *Store) encodeLists(doc listsDoc) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(doc)+len(s.skippedLists))
	for name, raw := range s.skippedLists {
		if _, ok := doc[name]; !ok {
			out[name] = raw
		}
	}
	for name, e := range doc {
		if e.legacy() && !s.migrated[name] {
			out[name] = e.raw
			continue
		}
		out[name] = e.wrapped(name)
	}
	return json.MarshalIndent(out, "", "  ")
}

// resolveLocked replaces a legacy entry of the committed document with its
// wrapped form. s.mu must be held for writing.
func (s *Store) resolveLocked(name string, e *listEntry) *listEntry {
	w := &listEntry{list: e.wrapped(name)}
	s.lists[name] = w
	if !s.migrated[name] {
		s.migrated[name] = true
		s.logger.Info("migrated legacy list", slog.String("list", name))
	}
	return w
}

func (s *Store) beginLists() *ListsTx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := s.lists.clone()
	for name, e := range doc {
		if e.legacy() && s.migrated[name] {
			doc[name] = &listEntry{list: e.wrapped(name)}
		}
	}
	return &ListsTx{doc: doc, now: s.now()}
}

func (s *Store) commitLists(tx *ListsTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists = tx.doc
	for name := range s.skippedLists {
		if _, ok := s.lists[name]; ok {
			delete(s.skippedLists, name)
		}
	}
	for _, name := range tx.resolved {
		if e, ok := s.lists[name]; ok && !e.legacy() && !s.migrated[name] {
			s.migrated[name] = true
			s.logger.Info("migrated legacy list", slog.String("list", name))
		}
	}
	// A read may have resolved an entry after tx took its copy.
	for name, e := range s.lists {
		if e.legacy() && s.migrated[name] {
			s.resolveLocked(name, e)
		}
	}
}

// ListsTx is the mutable view of the lists document inside UpdateLists.
// Lists returned by Get may be modified in place.
type ListsTx struct {
	doc      listsDoc
	now      time.Time
	resolved []string
}

// Now is the timestamp of this mutation.
func (tx *ListsTx) Now() time.Time { return tx.now }

// Get returns the named list, resolving a legacy entry to the wrapped shape.
func (tx *ListsTx) Get(name string) (*model.List, bool) {
	e, ok := tx.doc[name]
	if !ok {
		return nil, false
	}
	if e.legacy() {
		e = &listEntry{list: e.wrapped(name)}
		tx.doc[name] = e
		tx.resolved = append(tx.resolved, name)
	}
	return e.list, true
}

// Create adds a new list. It fails with a conflict if the name is taken.
func (tx *ListsTx) Create(l *model.List) error {
	if _, ok := tx.doc[l.Name]; ok {
		return apperror.Conflict("list", l.Name)
	}
	if l.Items == nil {
		l.Items = []model.Item{}
	}
	tx.doc[l.Name] = &listEntry{list: l}
	return nil
}

// Delete removes a list and its items. It reports whether the list existed.
func (tx *ListsTx) Delete(name string) bool {
	if _, ok := tx.doc[name]; !ok {
		return false
	}
	delete(tx.doc, name)
	return true
}

// AppendItem adds it to l and touches l. The caller's id is kept only when
// it is non-empty and not already used in l; otherwise a fresh one is
// assigned. The stored item is returned.
func (tx *ListsTx) AppendItem(l *model.List, it model.Item) model.Item {
	for it.ID == "" || l.IndexOf(it.ID) >= 0 {
		it.ID = uuid.NewString()
	}
	l.Items = append(l.Items, it)
	l.Touch(tx.now)
	return it
}

// readLists makes sure the lists document was loaded. A failed load is
// logged and the (empty) committed snapshot is served.
func (s *Store) readLists(ctx context.Context) {
	if err := s.ensureLists(ctx); err != nil {
		s.logger.Warn("serving lists without a loaded document", slog.String("error", err.Error()))
	}
}

// lookupList returns a copy of the committed list, resolving a legacy
// entry on first access.
func (s *Store) lookupList(name string) (*model.List, bool) {
	s.mu.RLock()
	e, ok := s.lists[name]
	if ok && !e.legacy() {
		l := e.list.Clone()
		s.mu.RUnlock()
		return l, true
	}
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.lists[name]
	if !ok {
		return nil, false
	}
	if e.legacy() {
		e = s.resolveLocked(name, e)
	}
	return e.list.Clone(), true
}

// Items returns the items of a list, or an empty slice if it does not exist.
func (s *Store) Items(ctx context.Context, name string) []model.Item {
	s.readLists(ctx)
	l, ok := s.lookupList(name)
	if !ok {
		return []model.Item{}
	}
	return l.Items
}

// List returns a copy of the named list.
func (s *Store) List(ctx context.Context, name string) (*model.List, error) {
	s.readLists(ctx)
	l, ok := s.lookupList(name)
	if !ok {
		return nil, apperror.NotFound("list", name)
	}
	return l, nil
}

// Lists returns a summary of every list, most recently updated first.
// Lists that were never updated come last, ordered by name.
func (s *Store) Lists(ctx context.Context) []model.ListSummary {
	s.readLists(ctx)

	s.mu.RLock()
	out := make([]model.ListSummary, 0, len(s.lists))
	for name, e := range s.lists {
		out = append(out, e.summary(name))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.ListSummary) int {
		switch {
		case a.UpdatedAt != nil && b.UpdatedAt != nil:
			if c := b.UpdatedAt.Compare(*a.UpdatedAt); c != 0 {
				return c
			}
		case a.UpdatedAt != nil:
			return -1
		case b.UpdatedAt != nil:
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
