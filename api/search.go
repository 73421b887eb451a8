package api

import (
	"net/http"

	"github.com/0xmhha/contactstore/contact"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// SearchResponse is the body of a successful contact search
type SearchResponse struct {
	Query    string            `json:"query"`
	Count    int               `json:"count"`
	Contacts []contact.Contact `json:"contacts"`
}

// ErrorResponse is the body of a failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleSearch serves GET {SearchPath}?q=<query>.
// A missing q is the empty query and returns every contact.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	contacts, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		kind := contact.KindOf(err)
		s.logger.Debug("search request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", kind),
			zap.Error(err),
		)
		writeJSON(w, statusForKind(kind), ErrorResponse{
			Error: err.Error(),
			Kind:  kind,
		})
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Query:    query,
		Count:    len(contacts),
		Contacts: contacts,
	})
}

// statusForKind maps a search error kind to an HTTP status
func statusForKind(kind string) int {
	switch kind {
	case contact.KindConnection:
		return http.StatusServiceUnavailable
	case contact.KindRecord:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
