package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"stocksync/internal/middleware"
	"stocksync/internal/model"
	"stocksync/internal/service"
	"stocksync/pkg/apierror"
	"stocksync/pkg/response"
)

// LogHandler serves the sync audit log and the conflict queue.
type LogHandler struct {
	inventory *service.InventoryService
	conflicts *service.ConflictResolver
}

// NewLogHandler creates a log handler.
func NewLogHandler(inventory *service.InventoryService, conflicts *service.ConflictResolver) *LogHandler {
	return &LogHandler{inventory: inventory, conflicts: conflicts}
}

var operationStatuses = map[string]bool{
	model.StatusPending:    true,
	model.StatusInProgress: true,
	model.StatusCompleted:  true,
	model.StatusFailed:     true,
}

// ListOperations handles GET /admin/operations
func (h *LogHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pagination(r, 20, 100)

	productID, err := optionalID(r, "product_id")
	if err != nil {
		response.Error(w, err)
		return
	}
	replicaID, err := optionalID(r, "replica_id")
	if err != nil {
		response.Error(w, err)
		return
	}
	status := strings.ToUpper(r.URL.Query().Get("status"))
	if status != "" && !operationStatuses[status] {
		response.Error(w, apierror.ValidationError("invalid query parameter",
			apierror.FieldError{Field: "status", Message: "must be one of PENDING, IN_PROGRESS, COMPLETED, FAILED"}))
		return
	}

	ops, total, err := h.inventory.Operations(r.Context(), model.OperationFilter{
		ProductID: productID,
		ReplicaID: replicaID,
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		response.Error(w, serviceError(err))
		return
	}
	if ops == nil {
		ops = []model.SyncOperation{}
	}
	response.JSONWithMeta(w, http.StatusOK, ops, page, limit, total)
}

// ListConflicts handles GET /admin/conflicts
func (h *LogHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	_, limit, _ := pagination(r, 50, 200)
	conflicts, err := h.conflicts.Pending(r.Context(), limit)
	if err != nil {
		response.Error(w, serviceError(err))
		return
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	response.OK(w, conflicts)
}

// ResolveRequest is the body of a conflict resolution.
type ResolveRequest struct {
	Strategy string `json:"strategy"`
	Actor    string `json:"actor"`
}

// ResolveConflict handles POST /admin/conflicts/{id}/resolve
func (h *LogHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	if req.Strategy == "" {
		response.Error(w, apierror.ValidationError("strategy is required",
			apierror.FieldError{Field: "strategy", Message: "is required"}))
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "admin:" + middleware.GetRequestID(r.Context())
	}

	c, err := h.conflicts.Resolve(r.Context(), id, strings.ToUpper(req.Strategy), actor)
	if err != nil {
		response.Error(w, serviceError(err))
		return
	}
	response.OK(w, c)
}
