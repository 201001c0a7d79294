package store

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/model"
)

type usersDoc map[string]*model.User

func (d usersDoc) clone() usersDoc {
	c := make(usersDoc, len(d))
	for name, u := range d {
		cu := u.Clone()
		c[name] = &cu
	}
	return c
}

// decodeUsers parses the users document. Like decodeLists it sets aside
// entries it can't read instead of failing the whole document.
func decodeUsers(data []byte) (doc usersDoc, skipped map[string]json.RawMessage, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	doc = make(usersDoc, len(raw))
	for name, v := range raw {
		var u *model.User
		if err := json.Unmarshal(v, &u); err != nil || u == nil {
			if skipped == nil {
				skipped = make(map[string]json.RawMessage)
			}
			skipped[name] = v
			continue
		}
		u.Username = name
		doc[name] = u
	}
	return doc, skipped, nil
}

func (s *Store) encodeUsers(doc usersDoc) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(doc)+len(s.skippedUsers))
	for name, raw := range s.skippedUsers {
		if _, ok := doc[name]; !ok {
			out[name] = raw
		}
	}
	for name, u := range doc {
		out[name] = u
	}
	return json.MarshalIndent(out, "", "  ")
}

func (s *Store) beginUsers() *UsersTx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &UsersTx{doc: s.users.clone(), now: s.now()}
}

// UsersTx is the mutable view of the users document inside UpdateUsers.
type UsersTx struct {
	doc usersDoc
	now time.Time
}

// Now is the timestamp of this mutation.
func (tx *UsersTx) Now() time.Time { return tx.now }

// Get returns the user stored under the normalized username. The returned
// user may be modified in place.
func (tx *UsersTx) Get(username string) (*model.User, bool) {
	u, ok := tx.doc[username]
	return u, ok
}

// Put stores u under u.Username, replacing any previous value.
func (tx *UsersTx) Put(u model.User) {
	tx.doc[u.Username] = &u
}

// Delete removes a user. It reports whether the user existed.
func (tx *UsersTx) Delete(username string) bool {
	if _, ok := tx.doc[username]; !ok {
		return false
	}
	delete(tx.doc, username)
	return true
}

func (s *Store) readUsers(ctx context.Context) {
	if err := s.ensureUsers(ctx); err != nil {
		s.logger.Warn("serving users without a loaded document", slog.String("error", err.Error()))
	}
}

// Users returns every user ordered by username.
func (s *Store) Users(ctx context.Context) []model.User {
	s.readUsers(ctx)

	s.mu.RLock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.User) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return out
}

// User returns a copy of the user stored under the normalized username.
func (s *Store) User(ctx context.Context, username string) (model.User, error) {
	s.readUsers(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return model.User{}, apperror.NotFound("user", username)
	}
	return u.Clone(), nil
}
