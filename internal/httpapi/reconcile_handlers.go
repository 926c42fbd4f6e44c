package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"trainhub.org/internal/audit"
	"trainhub.org/internal/training"
)

// ReconcileService is what the HTTP layer needs from the engine.
type ReconcileService interface {
	ReconcileUser(ctx context.Context, authID, actor string) (training.UserResult, error)
	ReconcileAll(ctx context.Context, filter training.Filter, actor string) (training.RunSummary, error)
	GetCompletionHistory(ctx context.Context, authID, itemID string, itemType training.ItemType) (*time.Time, error)
	ListAssignments(ctx context.Context, authID string) ([]training.UserAssignment, error)
}

type reconcileRunRequest struct {
	RoleID       string `json:"role_id"`
	DepartmentID string `json:"department_id"`
}

type completionResponse struct {
	AuthID      string     `json:"auth_id"`
	ItemID      string     `json:"item_id"`
	ItemType    string     `json:"item_type"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type assignmentsResponse struct {
	AuthID string                    `json:"auth_id"`
	Items  []training.UserAssignment `json:"items"`
	AsOf   time.Time                 `json:"as_of"`
}

// POST /v1/reconcile/users/{auth_id}
func (a *API) handleReconcileUser(w http.ResponseWriter, r *http.Request) {
	authID := strings.TrimPrefix(r.URL.Path, "/v1/reconcile/users/")
	if authID == "" || strings.Contains(authID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	actor := actorFrom(r)
	res, err := a.svc.ReconcileUser(r.Context(), authID, actor)
	if err != nil {
		handleTrainingError(w, r, err)
		return
	}

	a.audit(r.Context(), "training.reconcile.user", actor, map[string]any{
		"auth_id": authID,
		"kept":    res.Kept,
		"added":   res.Added,
		"removed": res.Removed,
		"errors":  res.Errors,
	})
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/reconcile/runs
func (a *API) handleReconcileRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req reconcileRunRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := training.Filter{
		RoleID:       strings.TrimSpace(req.RoleID),
		DepartmentID: strings.TrimSpace(req.DepartmentID),
	}
	if filter.RoleID != "" && filter.DepartmentID != "" {
		writeError(w, r, http.StatusBadRequest, "role_id and department_id are mutually exclusive")
		return
	}

	actor := actorFrom(r)
	summary, err := a.svc.ReconcileAll(r.Context(), filter, actor)
	if err != nil {
		handleTrainingError(w, r, err)
		return
	}

	a.audit(r.Context(), "training.reconcile.run", actor, map[string]any{
		"run_id":          summary.RunID,
		"role_id":         filter.RoleID,
		"department_id":   filter.DepartmentID,
		"users_processed": summary.UsersProcessed,
		"added":           summary.Added,
		"removed":         summary.Removed,
		"errors":          summary.Errors,
	})
	writeJSON(w, http.StatusOK, summary)
}

// GET /v1/completions/{auth_id}?item_id=...&item_type=...
func (a *API) handleCompletions(w http.ResponseWriter, r *http.Request) {
	authID := strings.TrimPrefix(r.URL.Path, "/v1/completions/")
	if authID == "" || strings.Contains(authID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	itemID := strings.TrimSpace(r.URL.Query().Get("item_id"))
	if itemID == "" {
		writeError(w, r, http.StatusBadRequest, "item_id query parameter is required")
		return
	}
	itemType, err := training.ParseItemType(strings.TrimSpace(r.URL.Query().Get("item_type")))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	completedAt, err := a.svc.GetCompletionHistory(r.Context(), authID, itemID, itemType)
	if err != nil {
		handleTrainingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		AuthID:      authID,
		ItemID:      itemID,
		ItemType:    string(itemType),
		Completed:   completedAt != nil,
		CompletedAt: completedAt,
	})
}

// GET /v1/assignments/{auth_id}
func (a *API) handleAssignments(w http.ResponseWriter, r *http.Request) {
	authID := strings.TrimPrefix(r.URL.Path, "/v1/assignments/")
	if authID == "" || strings.Contains(authID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	items, err := a.svc.ListAssignments(r.Context(), authID)
	if err != nil {
		handleTrainingError(w, r, err)
		return
	}
	if items == nil {
		items = []training.UserAssignment{}
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{
		AuthID: authID,
		Items:  items,
		AsOf:   time.Now().UTC(),
	})
}

func (a *API) audit(ctx context.Context, event, actor string, fields map[string]any) {
	if actor != "" {
		ctx = audit.WithActor(ctx, actor)
	}
	_ = audit.LogEvent(ctx, event, fields)
}

func actorFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor"))
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleTrainingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, training.ErrInvalidInput), errors.Is(err, training.ErrInvalidItemType):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, training.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
