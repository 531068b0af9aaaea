package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeFirstError(t *testing.T) {
	env := New(http.StatusBadRequest, nil,
		Error{Code: "A", Message: "first"},
		Error{Code: "B", Message: "second"},
	)
	first := env.FirstError()
	require.NotNil(t, first)
	assert.Equal(t, "A", first.Code)

	empty := New(http.StatusOK, "data")
	assert.Nil(t, empty.FirstError())
}

func TestOKWrapsData(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	OK(c, gin.H{"value": 42})

	assert.Equal(t, http.StatusOK, w.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, http.StatusOK, env.StatusCode)
	assert.Empty(t, env.Errors)
	assert.NotNil(t, env.Data)
}

func TestFailCarriesStructuredErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Fail(c, http.StatusPaymentRequired, Error{Code: "CARD_DECLINED", Message: "Your card was declined."})

	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, http.StatusPaymentRequired, env.StatusCode)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "CARD_DECLINED", env.Errors[0].Code)
	assert.Nil(t, env.Data)
}
