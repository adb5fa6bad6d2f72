package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/store"
)

const defaultRunsLimit = 20

// serveRuns lists recorded build runs, newest first. Query parameters:
// limit, offset, target and state.
func (s *Server) serveRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Limit:  defaultRunsLimit,
		Target: q.Get("target"),
		State:  v1.TaskState(q.Get("state")),
	}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid "+name, http.StatusBadRequest)
			return
		}
		*dst = n
	}

	runs, err := s.history.ListBuildRuns(r.Context(), opts)
	if err != nil {
		log.Error(err, "Failed to list build runs")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*store.BuildRun{}
	}

	writeJSON(w, runs)
}

// serveRun returns one recorded build run by id.
func (s *Server) serveRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.history.GetBuildRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error(err, "Failed to get build run")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to write response")
	}
}
