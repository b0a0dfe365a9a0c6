package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)
	mux.HandleFunc("POST /v1/scheduler/tick", h.SchedulerTick)

	mux.HandleFunc("GET /v1/broadcasts", h.ListBroadcasts)
	mux.HandleFunc("POST /v1/broadcasts", h.CreateBroadcast)
	mux.HandleFunc("GET /v1/broadcasts/{id}", h.GetBroadcast)

	mux.HandleFunc("POST /v1/personal-entries", h.CreatePersonalEntry)
	mux.HandleFunc("DELETE /v1/personal-entries/{id}", h.DeletePersonalEntry)

	mux.HandleFunc("GET /v1/segments", h.ListSegments)
	mux.HandleFunc("POST /v1/segments", h.CreateSegment)
	mux.HandleFunc("DELETE /v1/segments/{id}", h.DeleteSegment)

	mux.HandleFunc("GET /v1/contacts", h.ListContacts)
	mux.HandleFunc("POST /v1/contacts", h.UpsertContact)
	mux.HandleFunc("POST /v1/contacts/{id}/enroll", h.EnrollContact)

	mux.HandleFunc("GET /v1/stage", h.CurrentStage)
	mux.HandleFunc("PUT /v1/stages/{stage}/content", h.UpsertStageContent)
	mux.HandleFunc("PUT /v1/stages/{stage}/feedback", h.UpsertFeedbackOptions)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("funnel-messaging"))
	})

	return mux
}
