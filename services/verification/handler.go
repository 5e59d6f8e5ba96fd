package verification

import (
	"net/http"
	"time"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/evidence"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the authenticated user resolved by the request layer.
const HeaderUserID = "X-User-ID"

const maxEvidenceSize = 32 << 20

type Handler struct {
	service *Service
	store   evidence.Store
	now     func() time.Time
}

func NewHandler(service *Service, store evidence.Store) *Handler {
	return &Handler{service: service, store: store, now: time.Now}
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/opportunities/:opportunity_id/verifications", h.submit)
	v1.GET("/opportunities/:opportunity_id/verifications/:user_id", h.getStatus)
	v1.POST("/opportunities/:opportunity_id/evidence", h.uploadEvidence)
	v1.POST("/opportunities/:opportunity_id/actions", h.recordAction)
	v1.POST("/verifications/:engagement_id/finalize", h.finalize)
	v1.POST("/verifications/finalize", h.finalizeBatch)
}

func userID(c *gin.Context) (string, error) {
	id := c.GetHeader(HeaderUserID)
	if id == "" {
		return "", errutil.New(errutil.StatusUnauthorized, "missing "+HeaderUserID+" header")
	}
	return id, nil
}

type submitRequest struct {
	Evidence []EvidenceInput `json:"evidence"`
}

func (h *Handler) submit(c *gin.Context) {
	user, err := userID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	e, err := h.service.Submit(c.Request.Context(), SubmitParams{
		UserID:        user,
		OpportunityID: c.Param("opportunity_id"),
		Evidence:      req.Evidence,
		Now:           h.now(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) getStatus(c *gin.Context) {
	view, err := h.service.GetStatus(c.Request.Context(), c.Param("user_id"), c.Param("opportunity_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) uploadEvidence(c *gin.Context) {
	if _, err := userID(c); err != nil {
		_ = c.Error(err)
		return
	}

	evidenceType := EvidenceType(c.PostForm("type"))
	if !evidenceType.Valid() {
		_ = c.Error(errutil.BadRequest("unknown evidence type", nil))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(errutil.BadRequest("file is required", err))
		return
	}
	if file.Size > maxEvidenceSize {
		_ = c.Error(errutil.BadRequest("file too large", nil))
		return
	}

	f, err := file.Open()
	if err != nil {
		_ = c.Error(errutil.BadRequest("unreadable file", err))
		return
	}
	defer f.Close()

	obj, err := h.store.Put(c.Request.Context(), string(evidenceType), file.Filename, file.Header.Get("Content-Type"), f, file.Size)
	if err != nil {
		_ = c.Error(errutil.BadGateway("failed to store evidence", err))
		return
	}
	c.JSON(http.StatusCreated, obj)
}

type actionRequest struct {
	Action Action `json:"action" binding:"required"`
}

func (h *Handler) recordAction(c *gin.Context) {
	user, err := userID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	e, err := h.service.RecordAction(c.Request.Context(), user, c.Param("opportunity_id"), req.Action, h.now())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type finalizeRequest struct {
	Decision   Status `json:"decision"`
	Comment    string `json:"comment"`
	ReviewerID string `json:"reviewer_id"`
}

func (h *Handler) finalize(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	e, err := h.service.Finalize(c.Request.Context(), FinalizeParams{
		EngagementID: c.Param("engagement_id"),
		Decision:     req.Decision,
		Comment:      req.Comment,
		ReviewerID:   req.ReviewerID,
		Now:          h.now(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type finalizeBatchRequest struct {
	EngagementIDs []string `json:"engagement_ids" binding:"required,min=1,max=500"`
	finalizeRequest
}

func (h *Handler) finalizeBatch(c *gin.Context) {
	var req finalizeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	result := h.service.FinalizeBatch(c.Request.Context(), BatchParams{
		EngagementIDs: req.EngagementIDs,
		Decision:      req.Decision,
		Comment:       req.Comment,
		ReviewerID:    req.ReviewerID,
		Now:           h.now(),
	})
	c.JSON(http.StatusOK, result)
}
