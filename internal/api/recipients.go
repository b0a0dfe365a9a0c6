package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
)

func (h *Handler) ListSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := h.recipients.ListSegments(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if segs == nil {
		segs = []model.Segment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": segs})
}

type createSegmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req createSegmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.fail(w, &model.ValidationError{Field: "name", Reason: "segment name is required"})
		return
	}

	seg, err := h.recipients.CreateSegment(r.Context(), name, strings.TrimSpace(req.Description))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seg)
}

// DeleteSegment removes a segment. Members are left without a segment;
// a segment that broadcast jobs still target answers 409.
func (h *Handler) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.recipients.DeleteSegment(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// segmentByName resolves an optional segment name. Empty means no segment;
// an unknown name is a validation error.
func (h *Handler) segmentByName(ctx context.Context, name string) (*int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	seg, err := h.recipients.GetSegmentByName(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, &model.ValidationError{Field: "segment", Reason: "unknown segment " + name}
	}
	if err != nil {
		return nil, err
	}
	return &seg.ID, nil
}

// ListContacts pages through contacts, optionally only one segment's.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	segID, err := h.segmentByName(r.Context(), q.Get("segment"))
	if err != nil {
		h.fail(w, err)
		return
	}

	contacts, err := h.recipients.ListContacts(r.Context(), segID,
		parseInt(q.Get("limit"), 50), parseInt(q.Get("offset"), 0))
	if err != nil {
		h.fail(w, err)
		return
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": contacts})
}

type upsertContactRequest struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// UpsertContact registers a contact. An existing contact is returned as is.
func (h *Handler) UpsertContact(w http.ResponseWriter, r *http.Request) {
	var req upsertContactRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	c, err := h.recipients.UpsertContact(r.Context(), model.Contact{
		ID:        req.ID,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type enrollRequest struct {
	Label string `json:"label"`
}

type enrollResponse struct {
	ContactID  int64       `json:"contact_id"`
	Label      string      `json:"label"`
	Stage      string      `json:"stage"`
	SegmentID  int64       `json:"segment_id"`
	EnrolledAt time.Time   `json:"enrolled_at"`
	Entries    []entryView `json:"entries"`
	Skipped    int         `json:"skipped"`
}

func (h *Handler) EnrollContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	en, err := h.funnels.Enroll(r.Context(), id, req.Label)
	if err != nil {
		h.fail(w, err)
		return
	}

	entries := make([]entryView, 0, len(en.Entries))
	for _, e := range en.Entries {
		entries = append(entries, viewEntry(e))
	}
	writeJSON(w, http.StatusCreated, enrollResponse{
		ContactID:  en.ContactID,
		Label:      en.Label,
		Stage:      string(en.Stage),
		SegmentID:  en.SegmentID,
		EnrolledAt: en.EnrolledAt,
		Entries:    entries,
		Skipped:    en.Skipped,
	})
}
