package handlers

import (
	"net/http"

	"storefront-svc/models"

	"github.com/gin-gonic/gin"
)

type CatalogReader interface {
	Categories() []*models.Category
	Len() int
}

type CatalogHandler struct {
	catalog CatalogReader
}

func NewCatalogHandler(catalog CatalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

func (h *CatalogHandler) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, models.CatalogResponse{Categories: h.catalog.Categories()})
}
