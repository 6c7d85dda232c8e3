package incidents

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrValidation, Status: http.StatusBadRequest},
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrStore, Status: http.StatusServiceUnavailable, Message: "incident store unavailable, retry later"},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident routes. All of them require an authenticated caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/filter", h.Filter)
		r.Get("/active", h.ListActive)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Put("/{id}", h.Update)
		r.Post("/{id}/acknowledge", h.Acknowledge)
		r.Post("/{id}/investigate", h.Investigate)
		r.Post("/{id}/resolve", h.Resolve)
		r.Post("/{id}/close", h.Close)
		r.Post("/{id}/assign", h.Assign)
		r.Post("/{id}/escalate", h.Escalate)
	})
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Title       string `json:"title" validate:"required,max=500"`
	Description string `json:"description"`
	Severity    string `json:"severity" validate:"required,oneof=P1 P2 P3 P4"`
	AssigneeID  *int64 `json:"assignee_id" validate:"omitempty,gt=0"`
	TeamID      *int64 `json:"team_id" validate:"omitempty,gt=0"`
}

// UpdateIncidentRequest represents the request body for a partial update.
type UpdateIncidentRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=500"`
	Description *string `json:"description"`
	Severity    *string `json:"severity" validate:"omitempty,oneof=P1 P2 P3 P4"`
	AssigneeID  *int64  `json:"assignee_id" validate:"omitempty,gt=0"`
	TeamID      *int64  `json:"team_id" validate:"omitempty,gt=0"`
}

// AcknowledgeRequest is the optional body of an acknowledgement.
type AcknowledgeRequest struct {
	UserID *int64 `json:"user_id" validate:"omitempty,gt=0"`
}

// ResolveRequest is the optional body of a resolution.
type ResolveRequest struct {
	Resolution *string `json:"resolution"`
}

// AssignRequest is the body of an assignment.
type AssignRequest struct {
	AssigneeID int64 `json:"assignee_id" validate:"required,gt=0"`
}

// Create handles POST /incidents request.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.Create(r.Context(), CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.Severity(req.Severity),
		AssigneeID:  req.AssigneeID,
		TeamID:      req.TeamID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Created(w, path.Join(r.URL.Path, strconv.FormatInt(incident.ID, 10)), incident)
}

// Get handles GET /incidents/{id} request.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	incident, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// List handles GET /incidents request.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, size, ok := parsePaging(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListAll(r.Context(), PageRequest{
		Page:      page,
		Size:      size,
		SortField: query.Get("sort_by"),
		SortDir:   SortDirection(query.Get("sort_dir")),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// Filter handles GET /incidents/filter request.
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, size, ok := parsePaging(w, r)
	if !ok {
		return
	}

	filters := Filters{Page: page, Size: size}
	if s := query.Get("status"); s != "" {
		status := domain.IncidentStatus(s)
		filters.Status = &status
	}
	if s := query.Get("severity"); s != "" {
		severity := domain.Severity(s)
		filters.Severity = &severity
	}
	if a := query.Get("assignee_id"); a != "" {
		assigneeID, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "assignee_id must be an integer")
			return
		}
		filters.AssigneeID = &assigneeID
	}

	result, err := h.service.ListByFilters(r.Context(), filters)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// ListActive handles GET /incidents/active request.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActive(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// Update handles PATCH /incidents/{id} request.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		TeamID:      req.TeamID,
	}
	if req.Severity != nil {
		severity := domain.Severity(*req.Severity)
		input.Severity = &severity
	}

	incident, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Acknowledge handles POST /incidents/{id}/acknowledge request.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req AcknowledgeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	incident, err := h.service.Acknowledge(r.Context(), id, req.UserID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Investigate handles POST /incidents/{id}/investigate request.
func (h *Handler) Investigate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	incident, err := h.service.Investigate(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Resolve handles POST /incidents/{id}/resolve request.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	incident, err := h.service.Resolve(r.Context(), id, req.Resolution)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Close handles POST /incidents/{id}/close request.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	incident, err := h.service.Close(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Assign handles POST /incidents/{id}/assign request.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.Assign(r.Context(), id, req.AssigneeID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Escalate handles POST /incidents/{id}/escalate request.
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	incident, err := h.service.Escalate(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// decodeOptional decodes and validates a body that may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid incident id")
		return 0, false
	}
	return id, true
}

func parsePaging(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	query := r.URL.Query()

	if p := query.Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 0 {
			httputil.Error(w, http.StatusBadRequest, "page must be a non-negative integer")
			return 0, 0, false
		}
		page = parsed
	}

	if s := query.Get("size"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "size must be a positive integer")
			return 0, 0, false
		}
		if parsed > MaxPageSize {
			parsed = MaxPageSize
		}
		size = parsed
	}

	return page, size, true
}
