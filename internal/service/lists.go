// Package service contains the business rules of the shared lists.
//
// THE FLOW OF A MUTATION:
//
//	Handler  → parses the request, calls one service method
//	Service  → validates input, runs a closure on the store, broadcasts
//	Store    → serializes the closure, persists, commits
//
// Services never know about HTTP. They return apperror values and the
// handler maps those to status codes. A change notification is broadcast
// only after the store reports that the change was persisted, so a
// subscriber that re-fetches always sees it.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/metrics"
	"github.com/sakif/shared-lists/internal/model"
	"github.com/sakif/shared-lists/internal/notify"
	"github.com/sakif/shared-lists/internal/store"
	"github.com/sakif/shared-lists/internal/validate"
)

// ListStore is the part of *store.Store the list service needs.
type ListStore interface {
	Items(ctx context.Context, list string) []model.Item
	List(ctx context.Context, list string) (*model.List, error)
	Lists(ctx context.Context) []model.ListSummary
	UpdateLists(ctx context.Context, fn func(tx *store.ListsTx) error) error
}

// Broadcaster announces committed changes to subscribers.
type Broadcaster interface {
	Broadcast(kind string)
}

var (
	_ ListStore   = (*store.Store)(nil)
	_ Broadcaster = (*notify.Notifier)(nil)
)

// ListService handles lists and their items.
type ListService struct {
	store    ListStore
	notifier Broadcaster
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewListService(st ListStore, n Broadcaster, logger *slog.Logger, m *metrics.Metrics) *ListService {
	return &ListService{
		store:    st,
		notifier: n,
		logger:   logger,
		metrics:  m,
	}
}

// CreateListInput is a request to create a list.
type CreateListInput struct {
	Name        string // optional; generated when empty
	DisplayName string
	CreatedBy   string
	CreatorName string
}

// mutate runs fn on the store, records the outcome and broadcasts kind on
// success.
func (s *ListService) mutate(ctx context.Context, op, kind string, fn func(tx *store.ListsTx) error) error {
	err := s.store.UpdateLists(ctx, fn)
	s.metrics.Mutation(op, err)
	if err != nil {
		return err
	}
	s.notifier.Broadcast(kind)
	return nil
}

func getList(tx *store.ListsTx, name string) (*model.List, error) {
	l, ok := tx.Get(name)
	if !ok {
		return nil, apperror.NotFound("list", name)
	}
	return l, nil
}

func getItem(l *model.List, id string) (int, error) {
	i := l.IndexOf(id)
	if i < 0 {
		return -1, apperror.NotFound("item", id)
	}
	return i, nil
}

// mergeAmount adds delta to a stored amount. Items without an amount count
// as one. The result stays within [1, MaxAmount].
func mergeAmount(current, delta int) int {
	current = max(current, 1)
	return min(max(current+delta, 1), validate.MaxAmount)
}

// Items returns the items of a list; an unknown list has none.
func (s *ListService) Items(ctx context.Context, list string) []model.Item {
	return s.store.Items(ctx, list)
}

// AddItem appends an item to list, creating the list if needed. When the
// list already holds an item with the same text (ignoring case and
// surrounding whitespace) the amounts are added up instead and the merged
// item is returned.
func (s *ListService) AddItem(ctx context.Context, list string, in validate.ItemInput, listDisplayName string) (model.Item, error) {
	item, err := validate.Item(in)
	if err != nil {
		return model.Item{}, err
	}
	listDisplayName, err = validate.DisplayName("displayName", listDisplayName)
	if err != nil {
		return model.Item{}, err
	}

	var stored model.Item
	merged := false
	err = s.mutate(ctx, "add_item", notify.KindItems, func(tx *store.ListsTx) error {
		l, ok := tx.Get(list)
		if !ok {
			if err := validate.ListName(list); err != nil {
				return err
			}
			now := tx.Now().UTC()
			l = &model.List{
				Name:        list,
				DisplayName: listDisplayName,
				CreatedBy:   item.AddedBy,
				CreatorName: item.AuthorName,
				CreatedAt:   &now,
			}
			if err := tx.Create(l); err != nil {
				return err
			}
		}

		for i := range l.Items {
			if model.SameText(l.Items[i].Text, item.Text) {
				l.Items[i].Amount = mergeAmount(l.Items[i].Amount, item.Amount)
				l.Touch(tx.Now())
				stored, merged = l.Items[i], true
				return nil
			}
		}

		stored = tx.AppendItem(l, item)
		return nil
	})
	if err != nil {
		return model.Item{}, err
	}

	s.logger.Info("item added",
		slog.String("list", list),
		slog.String("id", stored.ID),
		slog.Bool("merged", merged),
	)
	return stored, nil
}

// UpdateItem applies the allow-listed fields of a partial update.
func (s *ListService) UpdateItem(ctx context.Context, list, id string, fields map[string]json.RawMessage) (model.Item, error) {
	patch, err := validate.SanitizeUpdate(fields)
	if err != nil {
		return model.Item{}, err
	}

	var updated model.Item
	err = s.mutate(ctx, "update_item", notify.KindItems, func(tx *store.ListsTx) error {
		l, err := getList(tx, list)
		if err != nil {
			return err
		}
		i, err := getItem(l, id)
		if err != nil {
			return err
		}
		patch.Apply(&l.Items[i])
		l.Touch(tx.Now())
		updated = l.Items[i]
		return nil
	})
	if err != nil {
		return model.Item{}, err
	}
	return updated, nil
}

// AdjustAmount adds delta to an item's amount. The amount never drops
// below 1.
func (s *ListService) AdjustAmount(ctx context.Context, list, id string, delta int) (model.Item, error) {
	if err := validate.Delta(delta); err != nil {
		return model.Item{}, err
	}

	var updated model.Item
	err := s.mutate(ctx, "adjust_amount", notify.KindItems, func(tx *store.ListsTx) error {
		l, err := getList(tx, list)
		if err != nil {
			return err
		}
		i, err := getItem(l, id)
		if err != nil {
			return err
		}
		l.Items[i].Amount = mergeAmount(l.Items[i].Amount, delta)
		l.Touch(tx.Now())
		updated = l.Items[i]
		return nil
	})
	if err != nil {
		return model.Item{}, err
	}
	return updated, nil
}

// DeleteItem removes one item. Deleting an absent item is NotFound and
// leaves the list untouched.
func (s *ListService) DeleteItem(ctx context.Context, list, id string) error {
	err := s.mutate(ctx, "delete_item", notify.KindItems, func(tx *store.ListsTx) error {
		l, err := getList(tx, list)
		if err != nil {
			return err
		}
		i, err := getItem(l, id)
		if err != nil {
			return err
		}
		l.Items = append(l.Items[:i], l.Items[i+1:]...)
		l.Touch(tx.Now())
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("item deleted", slog.String("list", list), slog.String("id", id))
	return nil
}

// DeleteCompleted removes every completed item and returns how many went.
func (s *ListService) DeleteCompleted(ctx context.Context, list string) (int, error) {
	removed := 0
	err := s.mutate(ctx, "delete_completed", notify.KindItems, func(tx *store.ListsTx) error {
		l, err := getList(tx, list)
		if err != nil {
			return err
		}
		kept := l.Items[:0]
		for _, it := range l.Items {
			if it.Completed {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		l.Items = kept
		if removed > 0 {
			l.Touch(tx.Now())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ClearItems removes every item of a list but keeps the list.
func (s *ListService) ClearItems(ctx context.Context, list string) error {
	return s.mutate(ctx, "clear_items", notify.KindItems, func(tx *store.ListsTx) error {
		l, err := getList(tx, list)
		if err != nil {
			return err
		}
		l.Items = []model.Item{}
		l.Touch(tx.Now())
		return nil
	})
}

// CreateList creates an empty list and returns its name. Without a
// requested name a unique one is generated.
func (s *ListService) CreateList(ctx context.Context, in CreateListInput) (string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = xid.New().String()
	} else if err := validate.ListName(name); err != nil {
		return "", err
	}

	displayName, err := validate.DisplayName("displayName", in.DisplayName)
	if err != nil {
		return "", err
	}
	if displayName == "" {
		displayName = name
	}
	creatorName, err := validate.DisplayName("creatorName", in.CreatorName)
	if err != nil {
		return "", err
	}

	err = s.mutate(ctx, "create_list", notify.KindLists, func(tx *store.ListsTx) error {
		now := tx.Now().UTC()
		return tx.Create(&model.List{
			Name:        name,
			DisplayName: displayName,
			CreatedBy:   model.NormalizeUsername(in.CreatedBy),
			CreatorName: creatorName,
			CreatedAt:   &now,
			UpdatedAt:   &now,
		})
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("list created", slog.String("list", name))
	return name, nil
}

// GetList returns the summary of one list.
func (s *ListService) GetList(ctx context.Context, list string) (model.ListSummary, error) {
	l, err := s.store.List(ctx, list)
	if err != nil {
		return model.ListSummary{}, err
	}
	sum := l.Summary()
	if sum.DisplayName == "" {
		sum.DisplayName = l.Name
	}
	return sum, nil
}

// Lists returns the summaries of all lists.
func (s *ListService) Lists(ctx context.Context) []model.ListSummary {
	return s.store.Lists(ctx)
}

// DeleteList removes a list together with all of its items.
func (s *ListService) DeleteList(ctx context.Context, list string) error {
	err := s.mutate(ctx, "delete_list", notify.KindLists, func(tx *store.ListsTx) error {
		if !tx.Delete(list) {
			return apperror.NotFound("list", list)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("list deleted", slog.String("list", list))
	return nil
}
