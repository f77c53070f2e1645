package common

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// DateLayouts are the accepted formats of calendar dates in requests
var DateLayouts = []string{"2006-01-02", time.RFC3339}

var zipPattern = regexp.MustCompile(`^\d{3}-\d{4}$`)

type GenericEchoValidator struct {
	Validator *validator.Validate
}

// NewGenericEchoValidator builds the echo validator with the custom tags registered up front
func NewGenericEchoValidator() *GenericEchoValidator {
	return &GenericEchoValidator{Validator: NewValidator()}
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	if err := gv.Validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request body: %v", err))
	}
	return nil
}

// NewValidator returns a validator with the application's custom tags registered:
// "jpzip" for NNN-NNNN postal codes and "date" for dates in one of DateLayouts.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("jpzip", func(fl validator.FieldLevel) bool {
		return zipPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// ParseDate parses a date in any of DateLayouts
func ParseDate(value string) (time.Time, error) {
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC3339", value)
}
