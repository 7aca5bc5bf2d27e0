package shoporasync

import (
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/gin-gonic/gin"
)

// ProductsHandler serves the mirrored catalog to the dashboard.
func ProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, err := resolveStoreID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		filter := models.ProductFilter{
			StoreId:  storeId,
			Search:   c.Query("search"),
			Category: c.Query("category"),
			SortBy:   c.Query("sort_by"),
			SortDesc: strings.EqualFold(c.Query("order"), "desc"),
			Limit:    intQuery(c, "limit"),
			Offset:   intQuery(c, "offset"),
		}
		if v := strings.TrimSpace(c.Query("active")); v != "" {
			if v == "true" {
				filter.Active = utils.NewTrue()
			} else if v == "false" {
				filter.Active = utils.NewFalse()
			}
		}

		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		products, count, err := models.ListProducts(ctx, config.GetDB(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":      products,
			"totalCount": count,
		})
	}
}

// OrdersHandler serves mirrored orders with their line items.
func OrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, err := resolveStoreID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		filter := models.OrderFilter{
			StoreId:  storeId,
			Search:   c.Query("search"),
			Status:   c.Query("status"),
			SortBy:   c.Query("sort_by"),
			SortDesc: strings.EqualFold(c.Query("order"), "desc"),
			Limit:    intQuery(c, "limit"),
			Offset:   intQuery(c, "offset"),
		}

		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		orders, count, err := models.ListOrders(ctx, config.GetDB(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":      orders,
			"totalCount": count,
		})
	}
}

func intQuery(c *gin.Context, key string) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
