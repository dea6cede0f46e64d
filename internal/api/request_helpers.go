package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/coursegen/internal/api/shared"
	"github.com/phrazzld/coursegen/internal/domain"
)

// getPathParam extracts a required URL path parameter.
func getPathParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	return v, nil
}

// pathParams extracts several required path parameters, writing an error
// response and returning false when one is missing.
func pathParams(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		v, err := getPathParam(r, name)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// decodeAndValidate decodes the JSON body into v and validates it, writing
// an error response and returning false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", ErrInvalidBody, err), "")
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		HandleAPIError(w, r, err, "")
		return false
	}
	return true
}
