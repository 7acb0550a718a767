package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type percentBody struct {
	Percent *decimal.Decimal `json:"percent" validate:"required,gte=0,lte=100"`
	Paid    *bool            `json:"paid" validate:"required"`
}

func TestBindValidatesDecimalRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"percent":"12.5","paid":true}`))
	var body percentBody
	require.NoError(t, Bind(req, &body))
	require.Equal(t, "12.5", body.Percent.String())
	require.True(t, *body.Paid)

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"percent":150,"paid":true}`))
	err := Bind(req, &percentBody{})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "percent")

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"percent":5}`))
	err = Bind(req, &percentBody{})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "paid is required")
}

func TestBindRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"percent":5,"paid":false,"extra":1}`))
	require.ErrorIs(t, Bind(req, &percentBody{}), ErrValidation)
}

func TestRespondErrorStatus(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: payment 3", ErrNotFound):     http.StatusNotFound,
		fmt.Errorf("%w: refs", ErrConflict):          http.StatusConflict,
		fmt.Errorf("%w: bad", ErrValidation):         http.StatusBadRequest,
		fmt.Errorf("%w: n=0", ErrUnprocessable):      http.StatusUnprocessableEntity,
		fmt.Errorf("%w: busy", ErrLocked):            http.StatusLocked,
		errors.New("database exploded with secrets"): http.StatusInternalServerError,
	}
	for err, status := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, err)
		require.Equal(t, status, rec.Code, err.Error())
		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		require.Equal(t, status, problem.Status)
		if status == http.StatusInternalServerError {
			require.Empty(t, problem.Detail)
		}
	}
}
