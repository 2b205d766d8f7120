// Package httpapi provides the REST HTTP adapter for the tracker service.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/traq/internal/adapters/server/common"
	"github.com/hylla/traq/internal/app"
	"github.com/hylla/traq/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Tenant and actor arrive as explicit headers; there is no session state.
const (
	headerTenant = "X-Traq-Tenant"
	headerActor  = "X-Traq-Actor"
)

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	svc common.TrackerService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(svc common.TrackerService) *Handler {
	return &Handler{svc: svc}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	parts := strings.Split(path, "/")

	switch {
	case path == "projects":
		switch r.Method {
		case http.MethodGet:
			h.handleListProjects(w, r)
		case http.MethodPost:
			h.handleCreateProject(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case path == "items":
		switch r.Method {
		case http.MethodGet:
			h.handleSearchItems(w, r)
		case http.MethodPost:
			h.handleCreateItem(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case len(parts) == 2 && parts[0] == "items":
		switch r.Method {
		case http.MethodGet:
			h.handleGetItem(w, r, parts[1])
		case http.MethodPatch:
			h.handleUpdateItem(w, r, parts[1])
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPatch)
		}
	case len(parts) == 3 && parts[0] == "items":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		switch parts[2] {
		case "archive":
			h.handleArchiveItem(w, r, parts[1], true)
		case "restore":
			h.handleArchiveItem(w, r, parts[1], false)
		case "comments":
			h.handleCommentItem(w, r, parts[1])
		default:
			writeNotFound(w)
		}
	case path == "activity":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListActivity(w, r)
	case path == "notifications":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListNotifications(w, r)
	case len(parts) == 3 && parts[0] == "notifications" && parts[2] == "read":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleMarkNotificationRead(w, r, parts[1])
	default:
		writeNotFound(w)
	}
}

// createProjectRequest mirrors app.CreateProjectInput minus identity fields.
type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	KeyPrefix   string `json:"key_prefix"`
}

// handleCreateProject serves POST `/projects`.
func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	project, err := h.svc.CreateProject(r.Context(), app.CreateProjectInput{
		TenantID:    tenant,
		Name:        req.Name,
		Description: req.Description,
		KeyPrefix:   req.KeyPrefix,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// handleListProjects serves GET `/projects`.
func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projects, err := h.svc.ListProjects(r.Context(), tenant, queryBool(r, "include_archived"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// itemRequest is the JSON shape for item create and update payloads.
type itemRequest struct {
	ProjectID           string   `json:"project_id"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Status              string   `json:"status"`
	Priority            string   `json:"priority"`
	AssigneeID          string   `json:"assignee_id"`
	SecondaryAssigneeID string   `json:"secondary_assignee_id"`
	StartDate           string   `json:"start_date"`
	DueDate             string   `json:"due_date"`
	Labels              []string `json:"labels"`
}

// handleCreateItem serves POST `/items`.
func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := requireTenantActor(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := h.svc.CreateWorkItem(r.Context(), app.CreateWorkItemInput{
		TenantID:            tenant,
		ActorID:             actor,
		ProjectID:           req.ProjectID,
		Title:               req.Title,
		Description:         req.Description,
		Status:              domain.Status(req.Status),
		Priority:            domain.Priority(req.Priority),
		AssigneeID:          req.AssigneeID,
		SecondaryAssigneeID: req.SecondaryAssigneeID,
		StartDate:           req.StartDate,
		DueDate:             req.DueDate,
		Labels:              req.Labels,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleGetItem serves GET `/items/{id}`.
func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request, itemID string) {
	tenant, _, ok := requireTenant(w, r)
	if !ok {
		return
	}
	item, err := h.svc.GetWorkItem(r.Context(), tenant, itemID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleUpdateItem serves PATCH `/items/{id}` with a full next snapshot.
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request, itemID string) {
	tenant, actor, ok := requireTenantActor(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := h.svc.UpdateWorkItem(r.Context(), app.UpdateWorkItemInput{
		TenantID:            tenant,
		ActorID:             actor,
		WorkItemID:          itemID,
		Title:               req.Title,
		Description:         req.Description,
		Status:              domain.Status(req.Status),
		Priority:            domain.Priority(req.Priority),
		AssigneeID:          req.AssigneeID,
		SecondaryAssigneeID: req.SecondaryAssigneeID,
		StartDate:           req.StartDate,
		DueDate:             req.DueDate,
		Labels:              req.Labels,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleArchiveItem serves POST `/items/{id}/archive` and `/items/{id}/restore`.
func (h *Handler) handleArchiveItem(w http.ResponseWriter, r *http.Request, itemID string, archive bool) {
	tenant, actor, ok := requireTenantActor(w, r)
	if !ok {
		return
	}
	var (
		item domain.WorkItem
		err  error
	)
	if archive {
		item, err = h.svc.ArchiveWorkItem(r.Context(), tenant, actor, itemID)
	} else {
		item, err = h.svc.RestoreWorkItem(r.Context(), tenant, actor, itemID)
	}
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// commentRequest is the JSON shape for comment payloads.
type commentRequest struct {
	Body string `json:"body"`
}

// handleCommentItem serves POST `/items/{id}/comments`.
func (h *Handler) handleCommentItem(w http.ResponseWriter, r *http.Request, itemID string) {
	tenant, actor, ok := requireTenantActor(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.CommentWorkItem(r.Context(), tenant, actor, itemID, req.Body); err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

// handleSearchItems serves GET `/items`.
func (h *Handler) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := requireTenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	items, err := h.svc.SearchWorkItems(r.Context(), app.SearchWorkItemsInput{
		TenantID:        tenant,
		ProjectID:       q.Get("project_id"),
		Status:          domain.Status(q.Get("status")),
		NotStatus:       domain.Status(q.Get("not_status")),
		AssigneeID:      q.Get("assignee_id"),
		Label:           q.Get("label"),
		IncludeArchived: queryBool(r, "include_archived"),
		SortField:       q.Get("sort"),
		Descending:      queryBool(r, "desc"),
		Offset:          queryInt(r, "offset"),
		Limit:           queryInt(r, "limit"),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleListActivity serves GET `/activity`.
func (h *Handler) handleListActivity(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := requireTenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	records, err := h.svc.ListActivity(r.Context(), tenant, q.Get("project_id"), q.Get("item_id"), queryInt(r, "limit"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": records})
}

// handleListNotifications serves GET `/notifications` for the acting party.
func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	tenant, actor, ok := requireTenantActor(w, r)
	if !ok {
		return
	}
	records, err := h.svc.ListNotifications(r.Context(), tenant, actor, queryBool(r, "unread"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": records})
}

// handleMarkNotificationRead serves POST `/notifications/{id}/read`.
func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request, notificationID string) {
	tenant, actor, ok := requireTenantActor(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkNotificationRead(r.Context(), tenant, actor, notificationID); err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// requireTenant extracts the tenant header, failing the request when absent.
func requireTenant(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenant := strings.TrimSpace(r.Header.Get(headerTenant))
	actor := strings.TrimSpace(r.Header.Get(headerActor))
	if tenant == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    common.CodeInvalidRequest,
			Message: headerTenant + " header is required",
		})
		return "", "", false
	}
	return tenant, actor, true
}

// requireTenantActor extracts both identity headers for mutating requests.
func requireTenantActor(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenant, actor, ok := requireTenant(w, r)
	if !ok {
		return "", "", false
	}
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    common.CodeInvalidRequest,
			Message: headerActor + " header is required",
		})
		return "", "", false
	}
	return tenant, actor, true
}

// decodeBody decodes one bounded JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    common.CodeInvalidRequest,
			Message: "read request body: " + err.Error(),
		})
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    common.CodeInvalidRequest,
			Message: "decode request body: " + err.Error(),
		})
		return false
	}
	return true
}

// writeErrorFrom maps service errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	code := common.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case common.CodeNotFound:
		status = http.StatusNotFound
	case common.CodeContention:
		// The allocator retry budget is spent; the caller may retry.
		status = http.StatusConflict
	case common.CodeInvalidRequest:
		status = http.StatusBadRequest
	}
	writeJSONError(w, status, APIError{Code: code, Message: errMessage(err)})
}

// errMessage handles err message.
func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// writeJSON writes one JSON response with status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, status int, apiErr APIError) {
	writeJSON(w, status, ErrorEnvelope{Error: apiErr})
}

// writeMethodNotAllowed writes a 405 with the allowed methods.
func writeMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    common.CodeInvalidRequest,
		Message: "method not allowed",
	})
}

// writeNotFound writes the endpoint-missing error.
func writeNotFound(w http.ResponseWriter) {
	writeJSONError(w, http.StatusNotFound, APIError{
		Code:    common.CodeNotFound,
		Message: "endpoint not found",
	})
}

// normalizePath trims the mount prefix and surrounding slashes.
func normalizePath(path string) string {
	return strings.Trim(path, "/")
}

// queryBool parses one boolean query parameter, defaulting false.
func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return false
	}
	return v
}

// queryInt parses one integer query parameter, defaulting zero.
func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return v
}
