package validation_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/bibliored/bibliored-server/internal/errors"
	"github.com/bibliored/bibliored-server/internal/validation"
)

type searchRequest struct {
	Term  string `json:"term" validate:"required,notblank,max=200"`
	Limit int    `json:"limit,omitempty" validate:"gte=0,lte=100"`
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()

	err := v.Validate(searchRequest{Term: "Canto General", Limit: 10})
	assert.NoError(t, err)
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name       string
		req        searchRequest
		wantField  string
		wantDetail string
	}{
		{
			name:       "missing term",
			req:        searchRequest{},
			wantField:  "term",
			wantDetail: "is required",
		},
		{
			name:       "whitespace only term",
			req:        searchRequest{Term: " \t\n "},
			wantField:  "term",
			wantDetail: "must not be blank",
		},
		{
			name:       "term too long",
			req:        searchRequest{Term: strings.Repeat("a", 201)},
			wantField:  "term",
			wantDetail: "must not exceed 200 characters",
		},
		{
			name:       "limit out of range",
			req:        searchRequest{Term: "neruda", Limit: 101},
			wantField:  "limit",
			wantDetail: "must be less than or equal to 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domainerrors.ErrValidation))

			var domainErr *domainerrors.Error
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, http.StatusBadRequest, domainErr.HTTPStatus())
			assert.Contains(t, domainErr.Message, tt.wantField)

			details, ok := domainErr.Details.(map[string]string)
			require.True(t, ok)
			assert.Equal(t, tt.wantDetail, details[tt.wantField])
		})
	}
}

func TestValidator_JSONFieldNames(t *testing.T) {
	v := validation.New()

	err := v.Validate(searchRequest{})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "term")
	assert.NotContains(t, err.Error(), "Term")
}

func TestValidator_MultipleFieldsSorted(t *testing.T) {
	v := validation.New()

	err := v.Validate(searchRequest{Term: "", Limit: -1})
	require.Error(t, err)
	assert.Equal(t, "limit must be greater than or equal to 0; term is required", err.Error())
}
