package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chathub/internal/domain"
	"chathub/internal/service"
)

func handleListNotifications(svc *service.NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.FetchForUser(r.Context(), CurrentParticipant(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*domain.Notification{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleClearNotification(svc *service.NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := domain.NotificationID(chi.URLParam(r, "notificationID"))
		if err := svc.ClearOwned(r.Context(), CurrentParticipant(r), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
