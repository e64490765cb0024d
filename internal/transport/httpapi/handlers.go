package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/auth"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/backoffice"
)

type inspectionSummary struct {
	ID            string     `json:"id"`
	InspectorID   string     `json:"inspector_id"`
	SystemPlate   string     `json:"system_plate"`
	ObservedPlate string     `json:"observed_plate,omitempty"`
	Discrepancy   bool       `json:"discrepancy"`
	VehicleType   string     `json:"vehicle_type,omitempty"`
	ClientName    string     `json:"client_name,omitempty"`
	TemplateCode  string     `json:"template_code"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Estado        string     `json:"estado"`
	ReviewState   string     `json:"review_state,omitempty"`
	ReviewComment string     `json:"review_comment,omitempty"`
	ReviewedBy    string     `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	Score         *int       `json:"score,omitempty"`
	Result        string     `json:"result,omitempty"`
}

func summaryOf(s review.Submitted) inspectionSummary {
	return inspectionSummary{
		ID:            s.ID,
		InspectorID:   s.InspectorID,
		SystemPlate:   s.SystemPlate,
		ObservedPlate: s.ObservedPlate,
		Discrepancy:   s.Discrepancy,
		VehicleType:   s.VehicleType,
		ClientName:    s.ClientName,
		TemplateCode:  s.TemplateCode,
		ScheduledAt:   s.ScheduledAt,
		CompletedAt:   s.CompletedAt,
		Estado:        string(s.Estado),
		ReviewState:   string(s.ReviewState),
		ReviewComment: s.ReviewComment,
		ReviewedBy:    s.ReviewedBy,
		ReviewedAt:    s.ReviewedAt,
		Score:         s.Score,
		Result:        string(s.Result),
	}
}

type scheduleRequest struct {
	InspectorID  string    `json:"inspector_id"`
	Plate        string    `json:"plate"`
	VehicleType  string    `json:"vehicle_type"`
	BodyClass    string    `json:"body_class"`
	ClientName   string    `json:"client_name"`
	TemplateCode string    `json:"template_code"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

type overrideResponse struct {
	Item   ports.AuditedItem   `json:"item"`
	Entry  ports.HistoryRecord `json:"entry"`
	Score  *int                `json:"score,omitempty"`
	Result string              `json:"result"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "not_found", "event stream is disabled")
		return
	}
	claims, _ := ClaimsFrom(r.Context())
	h.hub.ServeWS(w, r, claims)
}

// assignmentsToday serves the caller's assignments. An admin may ask for
// another inspector and any day.
func (h *handler) assignmentsToday(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	inspectorID := claims.Subject
	if claims.Role == auth.RoleAdmin {
		inspectorID = strings.TrimSpace(r.URL.Query().Get("inspector_id"))
	}

	day := h.now()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeServiceError(r.Context(), w, errs.Validation("date", "must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	resp, err := h.svc.AssignmentsToday(r.Context(), inspectorID, day)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) completeInspection(w http.ResponseWriter, r *http.Request) {
	var req ports.CompletionRequest
	if !decodeJSON(w, r, h.cfg.MaxPhotoBytes, &req) {
		return
	}
	claims, _ := ClaimsFrom(r.Context())

	resp, err := h.svc.CompleteInspection(r.Context(), chi.URLParam(r, "id"), req, claims.Subject)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *handler) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	var upload ports.PhotoUpload
	if !decodeJSON(w, r, h.cfg.MaxPhotoBytes, &upload) {
		return
	}
	resp, err := h.svc.StorePhoto(r.Context(), upload)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *handler) photo(w http.ResponseWriter, r *http.Request) {
	photo, data, err := h.svc.PhotoPayload(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", photo.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handler) scheduleAssignment(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	created, err := h.svc.ScheduleAssignment(r.Context(), backoffice.ScheduleInput{
		InspectorID:  req.InspectorID,
		Plate:        req.Plate,
		VehicleType:  req.VehicleType,
		BodyClass:    req.BodyClass,
		ClientName:   req.ClientName,
		TemplateCode: req.TemplateCode,
		ScheduledAt:  req.ScheduledAt,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summaryOf(created))
}

func (h *handler) listInspections(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ports.SubmittedFilter{
		InspectorID: strings.TrimSpace(query.Get("inspector_id")),
		ReviewState: review.State(strings.ToUpper(strings.TrimSpace(query.Get("review_state")))),
	}
	for _, raw := range query["estado"] {
		if estado := strings.ToUpper(strings.TrimSpace(raw)); estado != "" {
			filter.Estados = append(filter.Estados, review.Estado(estado))
		}
	}

	rows, err := h.svc.ListSubmitted(r.Context(), filter)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	out := make([]inspectionSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, summaryOf(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) reviewDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.ReviewDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handler) reviewInspection(w http.ResponseWriter, r *http.Request) {
	var req ports.ReviewRequest
	if !decodeJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	claims, _ := ClaimsFrom(r.Context())

	input := backoffice.ReviewInput{
		InspectionID: chi.URLParam(r, "id"),
		Action:       req.Action,
		Comment:      req.Comment,
		Actor:        claims.Subject,
	}
	if req.Edits != nil {
		input.Edits = &review.Edits{Score: req.Edits.Score}
		if req.Edits.Result != nil {
			result := inspection.Result(*req.Edits.Result)
			input.Edits.Result = &result
		}
	}

	reviewed, err := h.svc.ReviewInspection(r.Context(), input)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryOf(reviewed))
}

func (h *handler) overrideItem(w http.ResponseWriter, r *http.Request) {
	var req ports.OverrideRequest
	if !decodeJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	claims, _ := ClaimsFrom(r.Context())

	result, err := h.svc.OverrideItem(r.Context(), backoffice.OverrideInput{
		InspectionID:  chi.URLParam(r, "id"),
		ItemID:        chi.URLParam(r, "itemID"),
		Verdict:       req.Verdict,
		Justification: req.Justification,
		Actor:         claims.Subject,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, overrideResponse{
		Item:   backoffice.AuditedItem(result.Item, nil),
		Entry:  backoffice.HistoryRecord(result.Entry),
		Score:  result.Inspection.Score,
		Result: string(result.Inspection.Result),
	})
}

func (h *handler) itemHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ItemHistory(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	out := make([]ports.HistoryRecord, 0, len(entries))
	for _, entry := range entries {
		out = append(out, backoffice.HistoryRecord(entry))
	}
	writeJSON(w, http.StatusOK, out)
}
