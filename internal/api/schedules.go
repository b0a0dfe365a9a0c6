package api

import (
	"net/http"
	"strings"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

func (h *Handler) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	jobs, err := h.schedules.ListBroadcastJobs(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}

	items := make([]broadcastView, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, viewBroadcast(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	j, err := h.schedules.GetBroadcastJob(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBroadcast(j))
}

type createBroadcastRequest struct {
	Title string `json:"title"`
	// Segment is a segment name. Empty targets every contact.
	Segment string `json:"segment"`
	Due     string `json:"due"`
	payloadFields
}

func (h *Handler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	payload, err := req.payload()
	if err != nil {
		h.fail(w, err)
		return
	}

	now := h.now().In(h.location())
	due, err := model.ParseDueTime(req.Due, h.location(), now)
	if err != nil {
		h.fail(w, err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = model.DefaultBroadcastTitle(now)
	}

	job := model.BroadcastJob{Title: title, Payload: payload, DueAt: due}

	segID, err := h.segmentByName(r.Context(), req.Segment)
	if err != nil {
		h.fail(w, err)
		return
	}
	job.SegmentID = segID

	created, err := h.schedules.CreateBroadcastJob(r.Context(), job)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.log.Info().Int64("broadcast_id", created.ID).Time("due_at", created.DueAt).Msg("broadcast scheduled")
	writeJSON(w, http.StatusCreated, viewBroadcast(created))
}

type createEntryRequest struct {
	ContactID int64  `json:"contact_id"`
	Due       string `json:"due"`
	payloadFields
}

func (h *Handler) CreatePersonalEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	payload, err := req.payload()
	if err != nil {
		h.fail(w, err)
		return
	}

	due, err := model.ParseDueTime(req.Due, h.location(), h.now())
	if err != nil {
		h.fail(w, err)
		return
	}

	if req.ContactID != 0 {
		if _, err := h.recipients.GetContact(r.Context(), req.ContactID); err != nil {
			h.fail(w, err)
			return
		}
	}

	created, err := h.schedules.CreatePersonalEntry(r.Context(), model.PersonalEntry{
		ContactID: req.ContactID,
		Payload:   payload,
		DueAt:     due,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewEntry(created))
}

func (h *Handler) DeletePersonalEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	if err := h.schedules.DeletePersonalEntry(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
