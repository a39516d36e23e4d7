package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/storage"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

const maxBodyBytes = 1 << 20

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "is required"
		case "email":
			details[fe.Field()] = "must be a valid email address"
		case "min", "gte":
			details[fe.Field()] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max", "lte":
			details[fe.Field()] = fmt.Sprintf("must be at most %s", fe.Param())
		case "oneof":
			details[fe.Field()] = fmt.Sprintf("must be one of: %s", fe.Param())
		default:
			details[fe.Field()] = fmt.Sprintf("failed on %q", fe.Tag())
		}
	}
	return details
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// decodeAndValidate reads a JSON body into dst and validates it. On failure it
// writes the response itself and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if err := v.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return false
		}
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return false
	}
	return true
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, payment.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, user.ErrEmailExists),
		errors.Is(err, catalog.ErrDuplicateSKU),
		errors.Is(err, order.ErrConflictingUpdate),
		errors.Is(err, order.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrUnknownVariant),
		errors.Is(err, catalog.ErrInsufficientStock),
		errors.Is(err, order.ErrInvalidTotal),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrInconsistentPaymentState),
		errors.Is(err, payment.ErrUnknownTransaction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, catalog.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, payment.ErrInvalidNotification),
		errors.Is(err, user.ErrInvalidRole),
		errors.Is(err, user.ErrEmptyPassword),
		errors.Is(err, user.ErrAddressIndexRange):
		return http.StatusBadRequest
	case storage.IsTransient(err),
		errors.Is(err, order.ErrDuplicateOrderNumber):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError maps err to a status. Client errors carry the
// error text; server errors carry fallback.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(fallback)
		if code == http.StatusServiceUnavailable {
			respondWithError(w, code, "Service temporarily unavailable")
			return
		}
		respondWithError(w, code, fallback)
		return
	}
	respondWithError(w, code, clientMessage(err))
}

var clientErrors = []error{
	auth.ErrInvalidCredentials, auth.ErrTokenInvalid, auth.ErrTokenExpired,
	user.ErrNotFound, user.ErrEmailExists, user.ErrInvalidRole, user.ErrEmptyPassword, user.ErrAddressIndexRange,
	catalog.ErrProductNotFound, catalog.ErrUnknownVariant, catalog.ErrInsufficientStock,
	catalog.ErrDuplicateSKU, catalog.ErrInvalidProduct, catalog.ErrInvalidQuantity,
	order.ErrOrderNotFound, order.ErrInvalidOrder, order.ErrInvalidTotal, order.ErrInvalidTransition,
	order.ErrInconsistentPaymentState, order.ErrConflictingUpdate, order.ErrDuplicateTransaction,
	payment.ErrBadSignature, payment.ErrInvalidNotification, payment.ErrUnknownTransaction,
}

// clientMessage drops the layer prefixes in front of the matched sentinel so
// responses read "insufficient stock: ..." rather than "service: ...".
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range clientErrors {
		if !errors.Is(err, sentinel) {
			continue
		}
		if i := strings.Index(msg, sentinel.Error()); i >= 0 {
			return msg[i:]
		}
		return sentinel.Error()
	}
	return msg
}

// pagination reads limit and offset query parameters.
func pagination(r *http.Request) (limit, offset int64) {
	limit, _ = strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	offset, _ = strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
