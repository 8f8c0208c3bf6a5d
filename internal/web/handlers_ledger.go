package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/ingest/internal/core"
	db "github.com/JonMunkholm/ingest/internal/database"
)

// handleListLedger lists recent ledger rows, newest first. Query parameters
// table, status, hash and limit narrow the listing.
func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.LedgerFilter{
		TargetTable: q.Get("table"),
		Status:      q.Get("status"),
		FileHash:    q.Get("hash"),
	}

	switch db.LedgerStatus(f.Status) {
	case "", db.StatusSuccess, db.StatusSkipped, db.StatusError:
	default:
		s.respondError(w, r, badRequest("status must be one of success, skipped, error"))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}

	entries, err := s.deps.Ledger.Recent(r.Context(), f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []db.LedgerEntry{}
	}
	writeJSON(w, entries)
}

// dialectResponse describes one registered dialect.
type dialectResponse struct {
	ID              string          `json:"id"`
	Label           string          `json:"label"`
	TargetTable     string          `json:"target_table"`
	ConflictColumns []string        `json:"conflict_columns"`
	ConditionalKey  bool            `json:"conditional_key"`
	FreeForm        bool            `json:"free_form"`
	Detectable      bool            `json:"detectable"`
	Fields          []fieldResponse `json:"fields"`
}

type fieldResponse struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

func (s *Server) handleListDialects(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Registry.All()
	out := make([]dialectResponse, 0, len(all))
	for _, d := range all {
		fields := make([]fieldResponse, len(d.Fields))
		for i, f := range d.Fields {
			fields[i] = fieldResponse{Name: f.Name, Type: core.SQLType(f.Type), Required: f.Required}
		}
		conflict := d.ConflictColumns
		if conflict == nil {
			conflict = []string{}
		}
		out = append(out, dialectResponse{
			ID:              d.ID,
			Label:           d.Label,
			TargetTable:     d.TargetTable,
			ConflictColumns: conflict,
			ConditionalKey:  d.ConditionalKey,
			FreeForm:        d.FreeForm,
			Detectable:      d.Detect != nil,
			Fields:          fields,
		})
	}
	writeJSON(w, out)
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status string                `json:"status"`
	Jobs   core.JobLimiterStatus `json:"jobs"`
}

// handleHealth reports the job limiter state. A draining service answers
// 503 so load balancers stop routing imports to it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Limiter.Status()
	if st.Draining {
		writeJSONStatus(w, http.StatusServiceUnavailable, healthResponse{Status: "draining", Jobs: st})
		return
	}
	writeJSON(w, healthResponse{Status: "ok", Jobs: st})
}
