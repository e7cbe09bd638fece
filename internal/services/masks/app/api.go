package server

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/masks/service"
)

// errorResponse is the JSON body of a failed API call.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type pseudonymRequest struct {
	Origin    string `json:"origin"`
	MaskIndex uint32 `json:"maskIndex"`
	Pseudonym string `json:"pseudonym"`
}

// NewAPIHandler serves the holder's read-mostly management API. Operations
// that need a prompt are only reachable through a popup.
func NewAPIHandler(svc *service.Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Statistics(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
	mux.HandleFunc("GET /api/links", func(w http.ResponseWriter, r *http.Request) {
		links, err := svc.GetLinks(r.Context(), r.URL.Query().Get("origin"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, links)
	})
	mux.HandleFunc("GET /api/login-options", func(w http.ResponseWriter, r *http.Request) {
		options, err := svc.GetLoginOptions(r.Context(), r.URL.Query().Get("origin"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, options)
	})
	mux.HandleFunc("PUT /api/pseudonym", func(w http.ResponseWriter, r *http.Request) {
		var req pseudonymRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "decode request", err))
			return
		}
		if err := svc.EditPseudonym(r.Context(), req.Origin, req.MaskIndex, req.Pseudonym); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := "internal error"
	if code.CallerError() {
		message = err.Error()
	}
	writeJSON(w, httpStatus(code), errorResponse{Error: string(code), Message: message})
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidInput, apperrors.CodeUnknownRoute:
		return http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeUnknownMask, apperrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
