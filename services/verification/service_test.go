package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fulfillment-controlplane/pkg/celengine"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/middleware"
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/services/opportunity"
	"fulfillment-controlplane/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	kicked     []string
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, tx *gorm.DB, e *Engagement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, e.ID)
	return nil
}

func (f *fakeDispatcher) Kick(ctx context.Context, engagementID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, engagementID)
}

type fixture struct {
	svc           *Service
	db            *gorm.DB
	dispatcher    *fakeDispatcher
	opportunities *opportunity.Service
	now           time.Time
}

var allEvidence = []string{"file", "picture", "geolocation", "voice_note"}

func newFixture(t *testing.T, rule string) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &opportunity.Opportunity{}, &Engagement{}, &Evidence{})
	compiled, err := celengine.NewEvidenceRule(rule)
	require.NoError(t, err)

	opps := opportunity.NewService(opportunity.ServiceParams{DB: db})
	dispatcher := &fakeDispatcher{}
	svc := NewService(ServiceParams{
		DB:            db,
		Node:          testutil.NewNode(t),
		Opportunities: opps,
		Rule:          compiled,
		Dispatcher:    dispatcher,
	})

	return &fixture{svc: svc, db: db, dispatcher: dispatcher, opportunities: opps, now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fixture) opportunity(t *testing.T, id string, method opportunity.VerificationMethod) {
	t.Helper()
	reward := money.FromCents(1000)
	_, err := f.opportunities.Save(context.Background(), opportunity.SaveParams{
		ID:                 id,
		RewardAmount:       &reward,
		CredentialIssuance: true,
		CredentialSchema:   "volunteer",
		VerificationMethod: method,
		RequiredEvidence:   allEvidence,
	})
	require.NoError(t, err)
}

func fullEvidence() []EvidenceInput {
	return []EvidenceInput{
		{Type: EvidenceFile, Reference: "evidence/file/1/report.pdf"},
		{Type: EvidencePicture, Reference: "evidence/picture/2/site.jpg"},
		{Type: EvidenceGeolocation, Geometry: json.RawMessage(`{"type":"Point","coordinates":[106.8,-6.2]}`)},
		{Type: EvidenceVoiceNote, Reference: "evidence/voice_note/3/note.m4a"},
	}
}

func (f *fixture) submit(t *testing.T, user, opp string) *Engagement {
	t.Helper()
	e, err := f.svc.Submit(context.Background(), SubmitParams{UserID: user, OpportunityID: opp, Evidence: fullEvidence(), Now: f.now})
	require.NoError(t, err)
	return e
}

func TestSubmitCreatesPendingClaim(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)

	e := f.submit(t, "user-1", "opp-1")
	require.Equal(t, StatusPending, e.StatusValue())
	require.Equal(t, 1, e.Attempt)
	require.Empty(t, f.dispatcher.dispatched)

	rows, err := f.svc.ListEvidence(context.Background(), nil, e)
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

func TestSubmitTwiceIsDuplicateClaim(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)
	f.submit(t, "user-1", "opp-1")

	_, err := f.svc.Submit(context.Background(), SubmitParams{UserID: "user-1", OpportunityID: "opp-1", Evidence: fullEvidence(), Now: f.now})
	require.ErrorIs(t, err, ErrDuplicateClaim)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestSubmitAfterCompletionIsDuplicateClaim(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)
	e := f.submit(t, "user-1", "opp-1")

	_, err := f.svc.Finalize(context.Background(), FinalizeParams{EngagementID: e.ID, Decision: StatusCompleted, ReviewerID: "rev-1", Now: f.now})
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), SubmitParams{UserID: "user-1", OpportunityID: "opp-1", Evidence: fullEvidence(), Now: f.now})
	require.ErrorIs(t, err, ErrDuplicateClaim)
}

func TestSubmitEvidenceIncomplete(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)

	_, err := f.svc.Submit(context.Background(), SubmitParams{
		UserID: "user-1", OpportunityID: "opp-1", Now: f.now,
		Evidence: fullEvidence()[:2],
	})
	require.ErrorIs(t, err, ErrEvidenceIncomplete)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Details, 2)

	_, err = f.svc.GetStatus(context.Background(), "user-1", "opp-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitWithAtLeastOneRule(t *testing.T) {
	f := newFixture(t, "size(required) == 0 || required.exists(t, t in supplied)")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)

	e, err := f.svc.Submit(context.Background(), SubmitParams{
		UserID: "user-1", OpportunityID: "opp-1", Now: f.now,
		Evidence: fullEvidence()[1:2],
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.StatusValue())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)

	_, err := f.svc.Submit(context.Background(), SubmitParams{
		UserID: "user-1", OpportunityID: "opp-1", Now: f.now,
		Evidence: []EvidenceInput{{Type: "selfie", Reference: "x"}, {Type: EvidenceFile}},
	})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
	require.Len(t, be.Details, 2)

	_, err = f.svc.Submit(context.Background(), SubmitParams{UserID: "user-1", OpportunityID: "missing", Evidence: fullEvidence(), Now: f.now})
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestFinalizeApproveDispatches(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)
	e := f.submit(t, "user-1", "opp-1")

	done, err := f.svc.Finalize(context.Background(), FinalizeParams{EngagementID: e.ID, Decision: StatusCompleted, Comment: "looks good", ReviewerID: "rev-1", Now: f.now})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.StatusValue())
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, []string{e.ID}, f.dispatcher.dispatched)
	require.Equal(t, []string{e.ID}, f.dispatcher.kicked)

	_, err = f.svc.Finalize(context.Background(), FinalizeParams{EngagementID: e.ID, Decision: StatusRejected, ReviewerID: "rev-1", Now: f.now})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Finalize(context.Background(), FinalizeParams{EngagementID: "missing", Decision: StatusRejected, ReviewerID: "rev-1", Now: f.now})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFinalizeRollsBackWhenDispatchFails(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)
	e := f.submit(t, "user-1", "opp-1")

	f.dispatcher.err = errors.New("db down")
	_, err := f.svc.Finalize(context.Background(), FinalizeParams{EngagementID: e.ID, Decision: StatusCompleted, ReviewerID: "rev-1", Now: f.now})
	require.Error(t, err)
	require.Empty(t, f.dispatcher.kicked)

	view, err := f.svc.GetStatus(context.Background(), "user-1", "opp-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, view.Status)
}

func TestRejectThenResubmit(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)
	e := f.submit(t, "user-1", "opp-1")

	_, err := f.svc.Finalize(context.Background(), FinalizeParams{EngagementID: e.ID, Decision: StatusRejected, Comment: "blurry", ReviewerID: "rev-1", Now: f.now})
	require.NoError(t, err)
	require.Empty(t, f.dispatcher.dispatched)

	again := f.submit(t, "user-1", "opp-1")
	require.Equal(t, e.ID, again.ID)
	require.Equal(t, 2, again.Attempt)
	require.Equal(t, StatusPending, again.StatusValue())
	require.Empty(t, again.ReviewerComment)

	var count int64
	require.NoError(t, f.db.Model(&Evidence{}).Where("engagement_id = ?", e.ID).Count(&count).Error)
	require.Equal(t, int64(8), count)
}

func TestAutomaticVerificationCompletesOnSubmit(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-auto", opportunity.VerificationAutomatic)

	e := f.submit(t, "user-1", "opp-auto")
	require.Equal(t, StatusCompleted, e.StatusValue())
	require.Equal(t, SystemReviewer, e.ReviewerID)
	require.Equal(t, []string{e.ID}, f.dispatcher.dispatched)
	require.Equal(t, []string{e.ID}, f.dispatcher.kicked)
}

func TestFinalizeBatchPartialSuccess(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)
	a := f.submit(t, "user-a", "opp-1")
	b := f.submit(t, "user-b", "opp-1")

	_, err := f.svc.Finalize(context.Background(), FinalizeParams{EngagementID: b.ID, Decision: StatusRejected, ReviewerID: "rev-1", Now: f.now})
	require.NoError(t, err)

	result := f.svc.FinalizeBatch(context.Background(), BatchParams{
		EngagementIDs: []string{a.ID, b.ID, "missing", a.ID},
		Decision:      StatusCompleted,
		ReviewerID:    "rev-1",
		Now:           f.now,
	})
	require.Equal(t, []string{a.ID}, result.Succeeded)
	require.Len(t, result.Failed, 3)
	require.Equal(t, b.ID, result.Failed[0].EngagementID)
	require.Equal(t, errutil.StatusUnprocessableEntity, result.Failed[0].Code)
	require.Equal(t, "missing", result.Failed[1].EngagementID)
	require.Equal(t, errutil.StatusNotFound, result.Failed[1].Code)
	require.Equal(t, a.ID, result.Failed[2].EngagementID)
	require.Equal(t, errutil.StatusBadRequest, result.Failed[2].Code)
	require.Equal(t, "duplicate id in batch", result.Failed[2].Reason)
	require.Equal(t, 4, len(result.Succeeded)+len(result.Failed))
}

func TestRecordRewardShowsInStatus(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)
	e := f.submit(t, "user-1", "opp-1")

	require.NoError(t, f.svc.RecordReward(context.Background(), nil, e.ID, money.FromCents(1000), f.now))

	view, err := f.svc.GetStatus(context.Background(), "user-1", "opp-1")
	require.NoError(t, err)
	require.Equal(t, "10.00", view.RewardAmount.String())
}

func TestRecordActionIsIdempotent(t *testing.T) {
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)

	first, err := f.svc.RecordAction(context.Background(), "user-1", "opp-1", ActionViewed, f.now)
	require.NoError(t, err)
	second, err := f.svc.RecordAction(context.Background(), "user-1", "opp-1", ActionViewed, f.now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Nil(t, second.Status)

	_, err = f.svc.RecordAction(context.Background(), "user-1", "opp-1", ActionVerification, f.now)
	require.Error(t, err)
}

func TestHandlerSubmitAndStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, "")
	f.opportunity(t, "opp-1", opportunity.VerificationManual)

	h := NewHandler(f.svc, nil)
	h.now = func() time.Time { return f.now }
	r := gin.New()
	r.Use(middleware.Error())
	h.Register(r)

	body, err := json.Marshal(submitRequest{Evidence: fullEvidence()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/opportunities/opp-1/verifications", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/opportunities/opp-1/verifications", bytes.NewReader(body))
	req.Header.Set(HeaderUserID, "user-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/opportunities/opp-1/verifications", bytes.NewReader(body))
	req.Header.Set(HeaderUserID, "user-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/opportunities/opp-1/verifications/user-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"pending"`)
}
