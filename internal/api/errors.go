package api

import (
	"encoding/json"
	"net/http"
)

// apiError is the typed error taxonomy spec.md §7 maps to HTTP status:
// BadRequest -> 400, NotFound -> 404, unavailable -> 503 (the Projection or
// Store being transiently unavailable). Any other error reaching writeError
// is reported as 500.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) *apiError { return &apiError{status: http.StatusBadRequest, message: msg} }
func notFound(msg string) *apiError   { return &apiError{status: http.StatusNotFound, message: msg} }
func unavailable(msg string) *apiError {
	return &apiError{status: http.StatusServiceUnavailable, message: msg}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apiError)
	if !ok {
		apiErr = &apiError{status: http.StatusInternalServerError, message: err.Error()}
	}
	writeJSON(w, apiErr.status, errorBody{Error: apiErr.message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return badRequest("missing request body")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return badRequest("malformed JSON body: " + err.Error())
	}
	return nil
}
