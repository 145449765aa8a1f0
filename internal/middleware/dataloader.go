package middleware

import (
	"net/http"

	"github.com/rpattn/opscrm/internal/auth"
	"github.com/rpattn/opscrm/internal/leadloader"
	"github.com/rpattn/opscrm/internal/repository"
)

// DataLoaderMiddleware attaches a workspace-scoped lead loader to the request context.
// It must run after ScopeMiddleware.
func DataLoaderMiddleware(repo repository.LeadRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := auth.ScopeFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			loader := leadloader.NewLeadLoader(repo, scope.WorkspaceID)
			next.ServeHTTP(w, r.WithContext(leadloader.WithContext(r.Context(), loader)))
		})
	}
}
