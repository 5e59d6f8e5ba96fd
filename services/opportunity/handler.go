package opportunity

import (
	"net/http"

	"fulfillment-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/admin/opportunities")
	g.GET("/:opportunity_id", h.get)
	g.PUT("/:opportunity_id", h.save)
}

func (h *Handler) get(c *gin.Context) {
	opp, err := h.service.Get(c.Request.Context(), nil, c.Param("opportunity_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, opp)
}

func (h *Handler) save(c *gin.Context) {
	var req SaveParams
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.ID = c.Param("opportunity_id")

	opp, err := h.service.Save(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, opp)
}
