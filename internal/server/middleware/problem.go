package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// writeProblem answers with an RFC 9457 body shaped like the API's own errors.
func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	p := problem{Title: http.StatusText(status), Status: status, Detail: detail}
	if err := json.NewEncoder(w).Encode(&p); err != nil {
		log.Debug().Err(err).Int("status", status).Msg("middleware: write problem")
	}
}
