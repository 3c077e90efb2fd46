package httpserver

import (
	"net/http"
	"slices"
)

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"participantId": string(CurrentParticipant(r))})
	}
}

func handleListOnline(online OnlineLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := online.Online()
		slices.Sort(ids)
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, string(id))
		}
		writeJSON(w, http.StatusOK, map[string][]string{"participants": out})
	}
}
