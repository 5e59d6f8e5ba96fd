package fulfillment

import (
	"net/http"
	"strconv"

	"fulfillment-controlplane/pkg/db/pagination"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/services/job"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	admin *Admin
}

func NewHandler(admin *Admin) *Handler {
	return &Handler{admin: admin}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/admin")
	g.GET("/jobs/:kind", h.searchJobs)
	g.GET("/jobs/:kind/:job_id", h.getJob)
	g.POST("/jobs/:kind/:job_id/force-fail", h.forceFail)
	g.POST("/jobs/:kind/:job_id/redrive", h.redrive)
	g.POST("/engagements/:engagement_id/redispatch", h.redispatch)
}

func (h *Handler) searchJobs(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	f := job.Filter{Status: job.Status(c.Query("status")), Pagination: page}
	if v := c.Query("retry_exempt"); v != "" {
		exempt, err := strconv.ParseBool(v)
		if err != nil {
			_ = c.Error(errutil.BadRequest("invalid retry_exempt", err))
			return
		}
		f.Exempt = &exempt
	}

	rows, info, err := h.admin.SearchJobs(c.Request.Context(), c.Param("kind"), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *Handler) getJob(c *gin.Context) {
	rec, err := h.admin.GetJob(c.Request.Context(), c.Param("kind"), c.Param("job_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type forceFailRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) forceFail(c *gin.Context) {
	var req forceFailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	rec, err := h.admin.ForceFail(c.Request.Context(), c.Param("kind"), c.Param("job_id"), req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) redrive(c *gin.Context) {
	rec, err := h.admin.Redrive(c.Request.Context(), c.Param("kind"), c.Param("job_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) redispatch(c *gin.Context) {
	if err := h.admin.Redispatch(c.Request.Context(), c.Param("engagement_id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}
