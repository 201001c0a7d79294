package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/metrics"
	"github.com/sakif/shared-lists/internal/model"
	"github.com/sakif/shared-lists/internal/notify"
	"github.com/sakif/shared-lists/internal/store"
	"github.com/sakif/shared-lists/internal/validate"
)

// UserStore is the part of *store.Store the user service needs.
type UserStore interface {
	Users(ctx context.Context) []model.User
	User(ctx context.Context, username string) (model.User, error)
	UpdateUsers(ctx context.Context, fn func(tx *store.UsersTx) error) error
}

var _ UserStore = (*store.Store)(nil)

// UserService handles self-declared users and their favourites.
// Usernames are identities, not credentials: anybody may register any name.
type UserService struct {
	store    UserStore
	notifier Broadcaster
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewUserService(st UserStore, n Broadcaster, logger *slog.Logger, m *metrics.Metrics) *UserService {
	return &UserService{
		store:    st,
		notifier: n,
		logger:   logger,
		metrics:  m,
	}
}

func (s *UserService) mutate(ctx context.Context, op string, fn func(tx *store.UsersTx) error) error {
	err := s.store.UpdateUsers(ctx, fn)
	s.metrics.Mutation(op, err)
	if err != nil {
		return err
	}
	s.notifier.Broadcast(notify.KindUsers)
	return nil
}

// Register creates a user or refreshes an existing one. The display name
// is updated when given; createdAt is never changed by a re-registration.
func (s *UserService) Register(ctx context.Context, username, displayName string) (model.User, error) {
	key, err := validate.Username(username)
	if err != nil {
		return model.User{}, err
	}
	displayName, err = validate.DisplayName("displayName", displayName)
	if err != nil {
		return model.User{}, err
	}

	var registered model.User
	err = s.mutate(ctx, "register_user", func(tx *store.UsersTx) error {
		now := tx.Now().UTC()
		u, ok := tx.Get(key)
		if !ok {
			name := displayName
			if name == "" {
				name = strings.TrimSpace(username)
			}
			tx.Put(model.User{
				Username:    key,
				DisplayName: name,
				CreatedAt:   now,
				LastSeen:    now,
			})
			u, _ = tx.Get(key)
		} else {
			if displayName != "" {
				u.DisplayName = displayName
			}
			u.LastSeen = now
		}
		registered = u.Clone()
		return nil
	})
	if err != nil {
		return model.User{}, err
	}

	s.logger.Info("user registered", slog.String("username", key))
	return registered, nil
}

// Users returns every registered user.
func (s *UserService) Users(ctx context.Context) []model.User {
	return s.store.Users(ctx)
}

// Delete removes a user.
func (s *UserService) Delete(ctx context.Context, username string) error {
	key := model.NormalizeUsername(username)
	err := s.mutate(ctx, "delete_user", func(tx *store.UsersTx) error {
		if !tx.Delete(key) {
			return apperror.NotFound("user", key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("user deleted", slog.String("username", key))
	return nil
}

// Favorites returns the favourite list names of a user. An unknown user
// has none.
func (s *UserService) Favorites(ctx context.Context, username string) []string {
	u, err := s.store.User(ctx, model.NormalizeUsername(username))
	if err != nil || u.Favorites == nil {
		return []string{}
	}
	return u.Favorites
}

// ToggleFavorite adds list to or removes it from the user's favourites and
// returns the resulting favourites.
func (s *UserService) ToggleFavorite(ctx context.Context, username, list string) ([]string, error) {
	key := model.NormalizeUsername(username)
	if list == "" {
		return nil, apperror.ValidationFailed("list", "list name is required")
	}

	var favorites []string
	err := s.mutate(ctx, "toggle_favorite", func(tx *store.UsersTx) error {
		u, ok := tx.Get(key)
		if !ok {
			return apperror.NotFound("user", key)
		}
		u.ToggleFavorite(list)
		favorites = append([]string{}, u.Favorites...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return favorites, nil
}
