package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/shared-lists/internal/model"
	"github.com/sakif/shared-lists/internal/service"
)

// UserService is what the user handlers need from the service layer.
type UserService interface {
	Register(ctx context.Context, username, displayName string) (model.User, error)
	Users(ctx context.Context) []model.User
	Delete(ctx context.Context, username string) error
	Favorites(ctx context.Context, username string) []string
	ToggleFavorite(ctx context.Context, username, list string) ([]string, error)
}

var _ UserService = (*service.UserService)(nil)

// UserHandler serves users and their favourites.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// userResponse is a user as the API shows it: the username is the "name".
type userResponse struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		Name:        u.Username,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
		LastSeen:    u.LastSeen,
	}
}

// HandleList returns every registered user.
//
// HTTP: GET /api/users
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users := h.users.Users(r.Context())
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleRegister creates or refreshes a user.
//
// HTTP: POST /api/users/register
// REQUEST BODY: {"username": "sam", "displayName": "Sam"}
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.users.Register(r.Context(), req.Username, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, User: toUserResponse(u)})
}

// HandleDelete removes a user.
//
// HTTP: DELETE /api/users/{username}
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), chi.URLParam(r, "username")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// HandleFavorites returns a user's favourite list names.
//
// HTTP: GET /api/favorites/{username}
func (h *UserHandler) HandleFavorites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.users.Favorites(r.Context(), chi.URLParam(r, "username")))
}

// HandleToggleFavorite adds or removes one favourite.
//
// HTTP: POST /api/favorites/{username}/{list}
// RESPONSE: {"success": true, "favorites": ["groceries"]}
func (h *UserHandler) HandleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	favorites, err := h.users.ToggleFavorite(r.Context(), chi.URLParam(r, "username"), chi.URLParam(r, "list"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success   bool     `json:"success"`
		Favorites []string `json:"favorites"`
	}{true, favorites})
}
