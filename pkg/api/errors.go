package api

import (
	"errors"
	"net/http"

	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/httputil"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/storage"
	"github.com/crewlytics/crewsync/pkg/sync"
)

// writeDomainError maps the error taxonomy of the lower layers onto
// HTTP status codes. Unknown errors become opaque 500s; their detail
// stays in the logs, not the response.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrExpiredToken), errors.Is(err, identity.ErrInvalidToken):
		httputil.WriteError(w, http.StatusUnauthorized, err)

	case authz.IsDenied(err):
		if s.metrics != nil {
			var aErr *authz.Error
			if errors.As(err, &aErr) {
				s.metrics.AuthzDenialsTotal.WithLabelValues(string(aErr.Reason)).Inc()
			}
		}
		httputil.WriteError(w, http.StatusForbidden, err)

	case errors.Is(err, storage.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err)

	case errors.Is(err, sync.ErrInvalidPeriod):
		httputil.WriteError(w, http.StatusUnprocessableEntity, err)

	case storage.IsDuplicateKey(err):
		httputil.WriteError(w, http.StatusConflict, err)

	default:
		// Per-record validation failures travel inside sync.Result, not
		// as errors, so nothing maps to 400 here.
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
