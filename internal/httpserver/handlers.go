package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"newsletter/internal/domain"
	"newsletter/internal/service"
	"newsletter/internal/store"
)

type API struct {
	Svc *service.PublishService
}

// Register mounts the admin surface. The caller is expected to pass a
// subrouter guarded by the Authenticated middleware.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/newsletters", a.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/newsletters", a.handleListIssues).Methods(http.MethodGet)
	r.HandleFunc("/newsletters/{id}", a.handleGetIssue).Methods(http.MethodGet)
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)

	if err := r.ParseForm(); err != nil {
		http.Error(w, ErrBadForm, http.StatusBadRequest)
		return
	}
	req := domain.PublishRequest{
		Title:          r.PostFormValue("title"),
		HTMLContent:    r.PostFormValue("html_content"),
		TextContent:    r.PostFormValue("text_content"),
		IdempotencyKey: r.PostFormValue("idempotency_key"),
	}

	resp, err := a.Svc.Publish(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingFields), errors.Is(err, domain.ErrInvalidIdempotencyKey):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrPublishInProgress):
			http.Error(w, ErrPublishPending, http.StatusConflict)
		default:
			slog.Error("publish newsletter failed",
				"err", err,
				"user_id", userID,
				"idempotency_key", req.IdempotencyKey,
			)
			http.Error(w, ErrDependency, http.StatusInternalServerError)
		}
		return
	}

	writeSavedResponse(w, resp)
}

func (a *API) handleListIssues(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	issues, err := a.Svc.ListIssues(r.Context(), limit)
	if err != nil {
		slog.Error("list issues failed", "err", err)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(issues)
}

func (a *API) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	issue, found, err := a.Svc.GetIssue(r.Context(), id)
	if err != nil {
		slog.Error("get issue failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(issue)
}

// writeSavedResponse reconstructs the wire response from the stored triple.
// Header order and repeats are preserved; first success and replay are
// indistinguishable to the client.
func writeSavedResponse(w http.ResponseWriter, resp store.SavedResponse) {
	for _, h := range resp.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
