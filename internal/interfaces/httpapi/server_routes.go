package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerOpsRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /v1/jobs", handler.ListJobs)
	mux.HandleFunc("GET /v1/schedules", handler.ListSchedules)
	mux.HandleFunc("GET /v1/dispatches", handler.ListDispatches)
	mux.HandleFunc("GET /v1/dead-letters", handler.ListDeadLetters)
	mux.HandleFunc("GET /v1/items", handler.ListItems)
}

func registerInternalJobRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/internal/jobs/{rule}/fire", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.FireRule)))
}
