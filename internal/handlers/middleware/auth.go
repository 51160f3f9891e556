package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/hhledger/internal/handlers/ownerctx"
	"github.com/nkiryanov/hhledger/internal/handlers/render"
)

const bearerPrefix = "Bearer "

type authService interface {
	// Parse access token and return owner id it was issued for
	ParseAccess(ctx context.Context, access string) (uuid.UUID, error)
}

func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ownerID, err := as.ParseAccess(r.Context(), strings.TrimSpace(header[len(bearerPrefix):]))
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := ownerctx.New(r.Context(), ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
