package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/handlers"
)

// cors answers preflight requests for the browser client. An empty list or
// "*" allows every origin; listed origins may send credentials.
func cors(origins []string) func(http.Handler) http.Handler {
	opts := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{
			"Content-Type",
			"Authorization",
			"X-Client-ID",
			"X-Signature-256",
			"X-Delivery-ID",
			"X-Event",
		}),
		handlers.MaxAge(600),
		handlers.OptionStatusCode(http.StatusNoContent),
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts = append(opts, handlers.AllowedOrigins([]string{"*"}))
	} else {
		opts = append(opts, handlers.AllowedOrigins(origins), handlers.AllowCredentials())
	}
	return handlers.CORS(opts...)
}
