package opportunity

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/middleware"
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestSaveAndGet(t *testing.T) {
	svc := NewService(ServiceParams{DB: testutil.NewTestDB(t, &Opportunity{})})
	ctx := context.Background()
	reward := money.FromCents(1000)

	opp, err := svc.Save(ctx, SaveParams{
		ID:                 "opp-1",
		OrganizationID:     "org-1",
		RewardAmount:       &reward,
		CredentialIssuance: true,
		CredentialSchema:   "volunteer",
		RequiredEvidence:   []string{"picture", "geolocation"},
	})
	require.NoError(t, err)
	require.True(t, opp.HasReward())
	require.Equal(t, VerificationManual, opp.VerificationMethod)
	require.Equal(t, SubjectUser, opp.CredentialSubject)
	require.Empty(t, opp.CredentialOrganizationID())
	require.Equal(t, []string{"picture", "geolocation"}, []string(opp.RequiredEvidence))

	opp, err = svc.Save(ctx, SaveParams{
		ID:                 "opp-1",
		OrganizationID:     "org-1",
		VerificationMethod: VerificationAutomatic,
		CredentialSubject:  SubjectOrganization,
	})
	require.NoError(t, err)
	require.True(t, opp.IsAutomatic())
	require.False(t, opp.HasReward())
	require.Equal(t, "org-1", opp.CredentialOrganizationID())
}

func TestGetMissing(t *testing.T) {
	svc := NewService(ServiceParams{DB: testutil.NewTestDB(t, &Opportunity{})})

	_, err := svc.Get(context.Background(), nil, "nope")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestSaveValidation(t *testing.T) {
	svc := NewService(ServiceParams{DB: testutil.NewTestDB(t, &Opportunity{})})

	_, err := svc.Save(context.Background(), SaveParams{ID: "opp-1", CredentialIssuance: true, CredentialSubject: "robot"})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
	require.Len(t, be.Details, 2)
}

func TestHandlerSave(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(ServiceParams{DB: testutil.NewTestDB(t, &Opportunity{})})

	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(svc).Register(r)

	body := []byte(`{"title":"Beach cleanup","reward_amount":"10.00","required_evidence":["picture"]}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/v1/admin/opportunities/opp-9", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"reward_amount":"10.00"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/v1/admin/opportunities/opp-9", bytes.NewReader([]byte(`{"reward_amount":"1.234"}`))))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
