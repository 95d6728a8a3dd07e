package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/packml"
)

type fakeController struct {
	state packml.State
}

func (f *fakeController) CurrentState() packml.State { return f.state }

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

// newTestRouter rebuilds the two routes New registers, without binding a
// real listener, so handlers can be exercised with httptest directly. Its
// /state copy returns only the state field, not New's timestamp.
func newTestRouter(controller StateReporter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": controller.CurrentState().String()})
	})
	return router
}

func TestHealthzReturnsOK(t *testing.T) {
	router := newTestRouter(&fakeController{state: packml.Idle})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStateReportsCurrentControllerState(t *testing.T) {
	router := newTestRouter(&fakeController{state: packml.Execute})

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "EXECUTE", body["state"])
}

func TestNewBuildsConfiguredServer(t *testing.T) {
	srv := New("127.0.0.1:0", &fakeController{state: packml.Idle}, newTestLogger(), false)
	require.NotNil(t, srv.httpServer)
	assert.Equal(t, "127.0.0.1:0", srv.httpServer.Addr)
}
