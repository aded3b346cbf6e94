package transport

import "net/http"

type Handler interface {
	compress(w http.ResponseWriter, r *http.Request)
	job(w http.ResponseWriter, r *http.Request)
	jobs(w http.ResponseWriter, r *http.Request)
	result(w http.ResponseWriter, r *http.Request)
	initUpload(w http.ResponseWriter, r *http.Request)
	putChunk(w http.ResponseWriter, r *http.Request)
	uploadStatus(w http.ResponseWriter, r *http.Request)
	completeUpload(w http.ResponseWriter, r *http.Request)
	abortUpload(w http.ResponseWriter, r *http.Request)
	health(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h     Handler
	limit func(http.HandlerFunc) http.HandlerFunc
}

// NewRouter mounts h. limit, when non-nil, guards the endpoints that start
// new work.
func NewRouter(h Handler, limit func(http.HandlerFunc) http.HandlerFunc) *router {
	if limit == nil {
		limit = func(next http.HandlerFunc) http.HandlerFunc { return next }
	}
	return &router{h: h, limit: limit}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("POST /compress", r.limit(r.h.compress))
	mux.HandleFunc("GET /jobs/{id}", r.h.job)
	mux.HandleFunc("POST /jobs/status", r.h.jobs)
	mux.HandleFunc("GET /results/{id}", r.h.result)

	mux.HandleFunc("POST /uploads", r.limit(r.h.initUpload))
	mux.HandleFunc("GET /uploads/{id}", r.h.uploadStatus)
	mux.HandleFunc("PUT /uploads/{id}/chunks/{index}", r.h.putChunk)
	mux.HandleFunc("POST /uploads/{id}/complete", r.h.completeUpload)
	mux.HandleFunc("DELETE /uploads/{id}", r.h.abortUpload)

	mux.HandleFunc("GET /health", r.h.health)

	return mux
}
