package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to an HTTP status.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError writes the response of the first mapping err matches. Mapped
// 5xx errors are logged at warn. Unmapped errors become a logged 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		if m.Status >= http.StatusInternalServerError {
			ctxlog.FromContext(ctx).Warn("dependency error", "status", m.Status, "error", err)
		}
		Error(w, m.Status, msg)
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
