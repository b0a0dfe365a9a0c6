package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/funnel-messaging/internal/funnel"
	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
	"github.com/LeventeLantos/funnel-messaging/internal/scheduler"
)

type Deps struct {
	Scheduler  *scheduler.Scheduler
	Schedules  repo.ScheduleStore
	Recipients repo.RecipientStore
	Content    repo.ContentStore
	Funnels    *funnel.Orchestrator
	Log        zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Handler struct {
	sched      *scheduler.Scheduler
	schedules  repo.ScheduleStore
	recipients repo.RecipientStore
	content    repo.ContentStore
	funnels    *funnel.Orchestrator
	log        zerolog.Logger
	now        func() time.Time
}

func NewHandler(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		sched:      d.Scheduler,
		schedules:  d.Schedules,
		recipients: d.Recipients,
		content:    d.Content,
		funnels:    d.Funnels,
		log:        d.Log.With().Str("comp", "api").Logger(),
		now:        now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

// SchedulerTick runs one tick now and waits for it.
func (h *Handler) SchedulerTick(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.TickNow(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("manual tick failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// fail maps domain errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, funnel.ErrUnknownFunnel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.ValidationError{Field: "id", Reason: "expected a positive integer, got " + strconv.Quote(raw)}
	}
	return id, nil
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
