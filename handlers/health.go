package handlers

import (
	"net/http"

	"storefront-svc/config"

	"github.com/gin-gonic/gin"
)

func HealthCheck(catalog CatalogReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "healthy",
			"service":       config.ServiceName,
			"catalog_items": catalog.Len(),
		})
	}
}
