package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sproutmarket/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func render(t *testing.T, fn func(c *gin.Context)) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	fn(c)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestFailMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.Validation("quantity", "bad"), http.StatusBadRequest},
		{apperr.NotFound("exchange_not_found", "missing"), http.StatusNotFound},
		{apperr.Forbidden("not_owner", "no"), http.StatusForbidden},
		{apperr.Conflict("capacity_exceeded", "full"), http.StatusConflict},
		{apperr.InvalidState("already_resolved", "done"), http.StatusConflict},
		{apperr.External("stripe", errors.New("down")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, body := render(t, func(c *gin.Context) { Fail(c, tc.err) })
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.status, body.Code)
	}
}

func TestFailCarriesFieldAndDetails(t *testing.T) {
	err := apperr.Conflict("capacity_exceeded", "full").
		WithField("exchange_id").
		WithDetails(map[string]any{"max_pending": 4})
	_, body := render(t, func(c *gin.Context) { Fail(c, err) })
	require.Equal(t, "capacity_exceeded", body.Error)
	require.Equal(t, "exchange_id", body.Field)
	require.Equal(t, float64(4), body.Details.(map[string]interface{})["max_pending"])
}

func TestFailHidesInternalMessage(t *testing.T) {
	_, body := render(t, func(c *gin.Context) { Fail(c, errors.New("dsn password leaked")) })
	require.NotContains(t, body.Message, "password")
}

func TestBindErrorExpandsValidatorFields(t *testing.T) {
	type req struct {
		Quantity int `validate:"min=1"`
	}
	err := validator.New().Struct(req{})
	status, body := render(t, func(c *gin.Context) { BindError(c, err) })
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Quantity", body.Field)
	require.Contains(t, body.Details.(map[string]interface{}), "Quantity")
}
