package handler

import (
	"net/http"

	"github.com/xgaming627/chatter-nexus/internal/middleware"
)

// CallValidate re-validates the session triple on behalf of the call
// service. The auth middleware has already resolved the user by the time
// this runs; all that is left is to report who it is.
func CallValidate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}
