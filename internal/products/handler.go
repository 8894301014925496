package products

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the operational API: inspect tracked products and manage
// the ignore list. Read-mostly; the tracker itself writes through the
// reconciliation path, never through HTTP.
type Handler struct {
	store Store
	log   *zap.Logger
}

func NewHandler(store Store, log *zap.Logger) *Handler {
	return &Handler{store: store, log: log}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/products", h.ListProducts)
	r.GET("/products/:id", h.GetProduct)
	r.GET("/stats", h.GetStats)
	r.GET("/ignored", h.ListIgnored)
	r.POST("/ignored/:id", h.AddIgnored)
	r.DELETE("/ignored/:id", h.RemoveIgnored)
}

func (h *Handler) ListProducts(c *gin.Context) {
	list, err := h.store.GetAll(c.Request.Context(), c.Query("query"))
	if err != nil {
		h.log.Error("list products failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch products"})
		return
	}
	if list == nil {
		list = []Record{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetProduct(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.log.Error("get product failed", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch product"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) ListIgnored(c *gin.Context) {
	list, err := h.store.ListIgnored(c.Request.Context())
	if err != nil {
		h.log.Error("list ignored failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch ignore list"})
		return
	}
	if list == nil {
		list = []IgnoredProduct{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) AddIgnored(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.store.AddIgnored(c.Request.Context(), id); err != nil {
		h.log.Error("add ignored failed", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ignore product"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) RemoveIgnored(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.RemoveIgnored(c.Request.Context(), id); err != nil {
		h.log.Error("remove ignored failed", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove ignore"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}
