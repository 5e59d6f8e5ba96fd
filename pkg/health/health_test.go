package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fulfillment-controlplane/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestReadinessReportsDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := ProvideHealth(HealthParams{DB: testutil.NewTestDB(t)})

	r := gin.New()
	r.GET("/readyz", h.Readiness)
	r.GET("/livez", h.Liveness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "healthly", body.Status)
	require.Len(t, body.Deps, 1)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
