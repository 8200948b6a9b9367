package evaluation

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// maxBodyBytes bounds evaluation request bodies.
const maxBodyBytes = 32 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	svc *Service
}

// NewHandler creates a new evaluation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/hit-rate", h.handleEvaluate)
	mux.HandleFunc("GET /v1/evaluation/history", h.handleHistory)
	mux.HandleFunc("GET /v1/evaluation/cutoffs", h.handleCutoffs)
}

// EvaluateRequest is the body of POST /v1/evaluation/hit-rate.
// Empty arrays are valid; missing fields are not.
type EvaluateRequest struct {
	Label       string     `json:"label,omitempty" validate:"max=128"`
	GroundTruth []string   `json:"ground_truth" validate:"required"`
	Predictions [][]string `json:"predictions" validate:"required"`
}

// Validate checks field presence and limits. Length alignment is checked
// by the evaluator.
func (r EvaluateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationToAppError(err)
	}
	return nil
}

// HistoryResponse is the body of GET /v1/evaluation/history.
type HistoryResponse struct {
	Count     int              `json:"count"`
	Snapshots []MetricSnapshot `json:"snapshots"`
}

// CutoffsResponse is the body of GET /v1/evaluation/cutoffs.
type CutoffsResponse struct {
	Cutoffs []int `json:"cutoffs"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		errors.WriteError(w, errors.InvalidRequestError("invalid JSON body: "+err.Error()))
		return
	}
	if err := dec.Decode(&struct{}{}); !stderrors.Is(err, io.EOF) {
		errors.WriteError(w, errors.InvalidRequestError("unexpected data after JSON body"))
		return
	}

	if err := req.Validate(); err != nil {
		errors.WriteError(w, err)
		return
	}

	snapshot, err := h.svc.Evaluate(r.Context(), Request(req))
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	snapshots := h.svc.History()
	writeJSON(w, http.StatusOK, HistoryResponse{
		Count:     len(snapshots),
		Snapshots: snapshots,
	})
}

func (h *Handler) handleCutoffs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CutoffsResponse{Cutoffs: h.svc.Cutoffs()})
}

func validationToAppError(err error) *errors.AppError {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.InvalidRequestError(err.Error())
	}

	appErr := errors.ValidationError("request validation failed")
	for _, fe := range verrs {
		appErr = appErr.WithDetail(jsonFieldName(fe.Field()), fe.Tag())
	}
	return appErr
}

// jsonFieldName maps struct field names to their JSON names for error details.
func jsonFieldName(field string) string {
	switch field {
	case "GroundTruth":
		return "ground_truth"
	case "Predictions":
		return "predictions"
	default:
		return strings.ToLower(field)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
