package ledger

import (
	"net/http"

	"fulfillment-controlplane/pkg/db/pagination"
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
	g := r.Group("/v1/admin/ledger")
	g.GET("/accounts/:account_id/balance", h.getBalance)
	g.GET("/accounts/:account_id/entries", h.listEntries)
	g.GET("/accounts/:account_id/verify", h.verifyChain)
	g.GET("/entries/:entry_id", h.getEntry)
}

func (h *Handler) getBalance(c *gin.Context) {
	balance, err := h.service.GetBalance(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) listEntries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := h.service.ListEntries(c.Request.Context(), c.Param("account_id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}

func (h *Handler) verifyChain(c *gin.Context) {
	valid, err := h.service.VerifyChain(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (h *Handler) getEntry(c *gin.Context) {
	entry, err := h.service.GetEntry(c.Request.Context(), c.Param("entry_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
