package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	catalogdomain "github.com/costlane/costlane/internal/catalog/domain"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	"github.com/costlane/costlane/internal/pricingservice"
	"github.com/costlane/costlane/internal/report"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/costlane/costlane/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type validationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, code, message string) error {
	return &validationError{Field: field, Code: code, Message: message}
}

// AbortWithError maps domain errors onto HTTP statuses: validation 400,
// unknown resources 404, verified-day and missing-day conflicts 409,
// data-quality conditions 422, everything else 500.
func AbortWithError(c *gin.Context, err error) {
	var ve *validationError
	var missing *worker.MissingDaysError
	var bindErrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &bindErrs),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr),
		errors.Is(err, io.EOF),
		errors.As(err, &ve),
		errors.Is(err, report.ErrInvalidGroupBy),
		errors.Is(err, usagedomain.ErrInvalidDimension),
		errors.Is(err, usagedomain.ErrInvalidEnvironment),
		errors.Is(err, usagedomain.ErrInvalidDate),
		errors.Is(err, usagedomain.ErrInvalidWarehouse):
		status = http.StatusBadRequest
	case errors.Is(err, worker.ErrJobNotFound),
		errors.Is(err, catalogdomain.ErrDimensionNotFound),
		errors.Is(err, catalogdomain.ErrEnvironmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, costnodedomain.ErrVerifiedCostsExist),
		errors.As(err, &missing):
		status = http.StatusConflict
	case errors.Is(err, worker.ErrCyclesPresent),
		pricingservice.IsDataQuality(err):
		status = http.StatusUnprocessableEntity
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
