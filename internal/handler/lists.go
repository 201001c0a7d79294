package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/shared-lists/internal/service"
)

// ListHandler serves list metadata.
type ListHandler struct {
	lists  ListService
	logger *slog.Logger
}

func NewListHandler(lists ListService, logger *slog.Logger) *ListHandler {
	return &ListHandler{lists: lists, logger: logger}
}

// HandleList returns the summaries of every list.
//
// HTTP: GET /api/lists
//
//	[{"name":"groceries","displayName":"Groceries","updatedAt":"...","itemCount":3}, ...]
func (h *ListHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lists.Lists(r.Context()))
}

// HandleCreate creates an empty list.
//
// HTTP: POST /api/lists
// REQUEST BODY: {"name": "groceries", "displayName": "Groceries", "createdBy": "sam", "creatorName": "Sam"}
// RESPONSE:     {"success": true, "listId": "groceries"}
//
// name is optional; without it a unique name is generated.
func (h *ListHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		CreatedBy   string `json:"createdBy"`
		CreatorName string `json:"creatorName"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	name, err := h.lists.CreateList(r.Context(), service.CreateListInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		CreatedBy:   req.CreatedBy,
		CreatorName: req.CreatorName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, successResponse{Success: true, ListID: name})
}

// HandleGet returns the summary of one list.
//
// HTTP: GET /api/lists/{list}
func (h *ListHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sum, err := h.lists.GetList(r.Context(), chi.URLParam(r, "list"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// HandleDelete removes a list and all of its items.
//
// HTTP: DELETE /api/lists/{list}
func (h *ListHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.lists.DeleteList(r.Context(), chi.URLParam(r, "list")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
