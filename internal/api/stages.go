package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/stage"
)

type funnelView struct {
	Label   string `json:"label"`
	Segment string `json:"segment"`
	Button  string `json:"button,omitempty"`
	Steps   int    `json:"steps"`
}

type stageResponse struct {
	At      time.Time    `json:"at"`
	Active  bool         `json:"active"`
	Stage   string       `json:"stage,omitempty"`
	Funnels []funnelView `json:"funnels"`
}

// CurrentStage resolves the stage at ?at= (same formats as due times) or now.
func (h *Handler) CurrentStage(w http.ResponseWriter, r *http.Request) {
	at, err := model.ParseDueTime(r.URL.Query().Get("at"), h.location(), h.now())
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := stageResponse{At: at.In(h.location()), Funnels: []funnelView{}}
	if id, ok := h.funnels.CurrentStage(at); ok {
		resp.Active = true
		resp.Stage = string(id)
		for _, f := range h.funnels.FunnelsFor(id) {
			resp.Funnels = append(resp.Funnels, funnelView{
				Label:   f.Label,
				Segment: f.Segment,
				Button:  f.Button,
				Steps:   len(f.Plan),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type stageContentRequest struct {
	WelcomeText string `json:"welcome_text"`
	MenuText    string `json:"menu_text"`
}

func (h *Handler) UpsertStageContent(w http.ResponseWriter, r *http.Request) {
	id := stage.ID(strings.TrimSpace(r.PathValue("stage")))
	if !h.knownStage(id) {
		h.fail(w, &model.ValidationError{Field: "stage", Reason: "unknown stage " + string(id)})
		return
	}

	var req stageContentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	c := model.StageContent{
		Stage:       string(id),
		WelcomeText: req.WelcomeText,
		MenuText:    req.MenuText,
		UpdatedAt:   h.now(),
	}
	if err := h.content.UpsertStageContent(r.Context(), c); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type feedbackRequest struct {
	Options []string `json:"options"`
}

// UpsertFeedbackOptions stores up to three answer captions for a stage.
func (h *Handler) UpsertFeedbackOptions(w http.ResponseWriter, r *http.Request) {
	id := stage.ID(strings.TrimSpace(r.PathValue("stage")))
	if !h.knownStage(id) {
		h.fail(w, &model.ValidationError{Field: "stage", Reason: "unknown stage " + string(id)})
		return
	}

	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if len(req.Options) == 0 || len(req.Options) > 3 {
		h.fail(w, &model.ValidationError{Field: "options", Reason: "between one and three options are required"})
		return
	}

	f := model.FeedbackOptions{Stage: string(id), UpdatedAt: h.now()}
	copy(f.Options[:], req.Options)
	if err := h.content.UpsertFeedbackOptions(r.Context(), f); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) knownStage(id stage.ID) bool {
	for _, win := range h.funnels.Config().Windows {
		if win.Stage == id {
			return true
		}
	}
	return false
}

func (h *Handler) location() *time.Location {
	if loc := h.funnels.Config().Location; loc != nil {
		return loc
	}
	return time.UTC
}
