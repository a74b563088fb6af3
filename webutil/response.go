package webutil

import (
	"encoding/json"
	"log"
	"net/http"
)

// RespondWithJSON marshals the payload and writes it with the given
// status. The Content-Type header is set by router middleware.
func RespondWithJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: Failed to marshal JSON response: %v", err)
		w.Header().Set(HeaderContentType, ContentTypeJSONUTF8)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(response)
}
