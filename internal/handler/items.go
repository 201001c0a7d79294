package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/shared-lists/internal/model"
	"github.com/sakif/shared-lists/internal/service"
	"github.com/sakif/shared-lists/internal/validate"
)

// ListService is what the item and list handlers need from the service layer.
type ListService interface {
	Items(ctx context.Context, list string) []model.Item
	AddItem(ctx context.Context, list string, in validate.ItemInput, listDisplayName string) (model.Item, error)
	UpdateItem(ctx context.Context, list, id string, fields map[string]json.RawMessage) (model.Item, error)
	AdjustAmount(ctx context.Context, list, id string, delta int) (model.Item, error)
	DeleteItem(ctx context.Context, list, id string) error
	DeleteCompleted(ctx context.Context, list string) (int, error)
	ClearItems(ctx context.Context, list string) error
	CreateList(ctx context.Context, in service.CreateListInput) (string, error)
	GetList(ctx context.Context, list string) (model.ListSummary, error)
	Lists(ctx context.Context) []model.ListSummary
	DeleteList(ctx context.Context, list string) error
}

var _ ListService = (*service.ListService)(nil)

// ItemHandler serves the items of one list.
//
// ROUTES:
//
//	GET    /api/items/{list}               → items of the list ([] if absent)
//	POST   /api/items/{list}               → add an item (creates the list)
//	DELETE /api/items/{list}               → remove every item
//	DELETE /api/items/{list}/completed     → remove completed items
//	PATCH  /api/items/{list}/{id}          → partial update
//	POST   /api/items/{list}/{id}/amount   → add {delta} to the amount
//	DELETE /api/items/{list}/{id}          → remove one item
type ItemHandler struct {
	lists  ListService
	logger *slog.Logger
}

func NewItemHandler(lists ListService, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{lists: lists, logger: logger}
}

// addItemRequest is the body of POST /api/items/{list}.
// id accepts strings and, from older clients, numbers.
type addItemRequest struct {
	ID          json.RawMessage `json:"id"`
	Text        string          `json:"text"`
	Amount      json.RawMessage `json:"amount"`
	Completed   bool            `json:"completed"`
	AddedBy     string          `json:"addedBy"`
	AuthorName  string          `json:"authorName"`
	DisplayName string          `json:"displayName"`
}

// rawID turns a JSON string or number into an id. Anything else is empty,
// which makes the store assign a fresh id.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (h *ItemHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lists.Items(r.Context(), chi.URLParam(r, "list")))
}

func (h *ItemHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	item, err := h.lists.AddItem(r.Context(), chi.URLParam(r, "list"), validate.ItemInput{
		ID:         rawID(req.ID),
		Text:       req.Text,
		Amount:     req.Amount,
		Completed:  req.Completed,
		AddedBy:    req.AddedBy,
		AuthorName: req.AuthorName,
	}, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, Item: item})
}

// HandleUpdate applies a partial update. Only text, completed and amount
// can change; other keys in the body are ignored.
func (h *ItemHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := decodeJSON(w, r, &fields); err != nil {
		writeError(w, err)
		return
	}

	item, err := h.lists.UpdateItem(r.Context(), chi.URLParam(r, "list"), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, Item: item})
}

func (h *ItemHandler) HandleAdjustAmount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	item, err := h.lists.AdjustAmount(r.Context(), chi.URLParam(r, "list"), chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, Item: item})
}

func (h *ItemHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.lists.DeleteItem(r.Context(), chi.URLParam(r, "list"), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *ItemHandler) HandleDeleteCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := h.lists.DeleteCompleted(r.Context(), chi.URLParam(r, "list"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Removed: &removed})
}

func (h *ItemHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.lists.ClearItems(r.Context(), chi.URLParam(r, "list")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
