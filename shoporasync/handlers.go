package shoporasync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/synctrack"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/gin-gonic/gin"
)

var (
	trackerOnce   sync.Once
	sharedTracker *synctrack.Tracker
)

// getTracker shares one tracker across handlers and worker runs so schema
// provisioning happens once per process.
func getTracker() *synctrack.Tracker {
	trackerOnce.Do(func() {
		sharedTracker = synctrack.NewTracker(synctrack.NewGormProgressStore(config.GetDB()), config.GetLogger())
	})
	return sharedTracker
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := storeIDOrAbort(c)
		if !ok {
			return
		}
		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		db := config.GetDB().WithContext(ctx)

		conn, err := models.GetConnectionByStoreId(ctx, db, storeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if conn == nil {
			c.JSON(http.StatusOK, StatusResponse{
				Success: true,
				Connection: ConnectionResponse{
					Status: models.ConnectionStatusDisconnected,
				},
				Modules: DefaultModules(),
			})
			return
		}

		status, err := getTracker().Status(ctx, storeId)
		if err != nil {
			// Pollers treat this as "status unknown" and retry.
			config.LogError(config.GetLogger(), "shoporasync", "StatusHandler", "tracker status", storeId, err)
			c.JSON(http.StatusOK, gin.H{"success": false})
			return
		}

		resp := StatusResponse{
			Success: true,
			Connection: ConnectionResponse{
				Status:    conn.Status,
				StoreId:   conn.StoreId,
				StoreName: conn.StoreName,
			},
			InProgress:        status.InProgress,
			ReconciledStale:   status.ReconciledStale,
			LastSyncAt:        formatTime(conn.LastSyncAt),
			LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
			Modules:           DecodeModules(conn.SettingsJSON),
		}
		if status.Record != nil {
			resp.Progress = &ProgressResponse{
				ID:        status.Record.ID,
				Status:    status.Record.Status,
				Current:   status.Record.Current,
				Total:     status.Record.Total,
				Notes:     status.Record.Notes,
				StartedAt: status.Record.StartedAt.UTC().Format(time.RFC3339),
				UpdatedAt: status.Record.UpdatedAt.UTC().Format(time.RFC3339),
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAuthenticated(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if strings.TrimSpace(req.StoreId) == "" || strings.TrimSpace(req.APIKey) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storeId and apiKey are required"})
			return
		}

		storeId := strings.TrimSpace(req.StoreId)
		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		db := config.GetDB().WithContext(ctx)

		conn, err := models.GetConnectionByStoreId(ctx, db, storeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		storeName := strings.TrimSpace(req.StoreName)
		if storeName == "" {
			storeName = storeId
		}

		if conn == nil {
			conn = &models.StorefrontConnection{
				StoreId:       storeId,
				StoreName:     storeName,
				Provider:      models.StorefrontProviderShopora,
				Status:        models.ConnectionStatusConnected,
				AuthType:      "api_key",
				AuthSecretRef: req.APIKey,
				SettingsJSON:  EncodeModules(DefaultModules()),
				UpdatedAt:     now,
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":          models.ConnectionStatusConnected,
				"auth_type":       "api_key",
				"auth_secret_ref": req.APIKey,
				"store_name":      storeName,
				"updated_at":      now,
			}
			if len(conn.SettingsJSON) == 0 {
				update["settings_json"] = EncodeModules(DefaultModules())
			}
			if err := db.Model(conn).Updates(update).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := storeIDOrAbort(c)
		if !ok {
			return
		}
		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		db := config.GetDB().WithContext(ctx)

		conn, err := models.GetConnectionByStoreId(ctx, db, storeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		if err := db.Model(conn).Updates(map[string]interface{}{
			"status":          models.ConnectionStatusDisconnected,
			"auth_secret_ref": "",
			"updated_at":      time.Now(),
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := storeIDOrAbort(c)
		if !ok {
			return
		}

		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		db := config.GetDB().WithContext(ctx)
		conn, err := models.GetConnectionByStoreId(ctx, db, storeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "shopora is not connected"})
			return
		}

		if err := db.Model(conn).Updates(map[string]interface{}{
			"settings_json": EncodeModules(req.Modules),
			"updated_at":    time.Now(),
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := storeIDOrAbort(c)
		if !ok {
			return
		}

		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		db := config.GetDB().WithContext(ctx)

		// An empty body means "use the stored settings".
		var override *SyncModules
		if c.Request.ContentLength > 0 {
			var req TriggerSyncRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
			mod := NormalizeModules(req.Modules)
			override = &mod
		}

		conn, err := models.GetConnectionByStoreId(ctx, db, storeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "shopora is not connected"})
			return
		}

		status, err := getTracker().Status(ctx, storeId)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync status unavailable"})
			return
		}
		if status.InProgress {
			c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
			return
		}

		if err := PublishSyncRun(c.Request.Context(), storeId, conn.ID, override); err != nil {
			config.LogError(config.GetLogger(), "shoporasync", "TriggerSyncHandler", "publish", storeId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue sync"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := storeIDOrAbort(c)
		if !ok {
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := utils.SetStoreIdInContext(c.Request.Context(), storeId)
		db := config.GetDB().WithContext(ctx)

		var entries []models.SyncHistory
		if err := db.Where("store_id = ?", storeId).
			Order("id desc").
			Limit(limit).
			Find(&entries).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncHistoryItem, 0, len(entries))
		for _, entry := range entries {
			items = append(items, SyncHistoryItem{
				ID:             entry.ID,
				Status:         entry.Status,
				OrdersSynced:   entry.OrdersSynced,
				ProductsSynced: entry.ProductsSynced,
				ErrorMessage:   entry.ErrorMessage,
				CompletedAt:    entry.CompletedAt.UTC().Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func isAuthenticated(c *gin.Context) bool {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	return ok && strings.TrimSpace(username) != ""
}

var errUnauthorized = errors.New("unauthorized")

func storeIDOrAbort(c *gin.Context) (string, bool) {
	storeId, err := resolveStoreID(c)
	if err != nil {
		if errors.Is(err, errUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return "", false
	}
	return storeId, true
}

// resolveStoreID reads the store from the query string, falling back to the
// single configured connection. With several connections the caller must say
// which store it means.
func resolveStoreID(c *gin.Context) (string, error) {
	if !isAuthenticated(c) {
		return "", errUnauthorized
	}

	storeId := strings.TrimSpace(c.Query("store_id"))
	if storeId != "" {
		return storeId, nil
	}

	db := config.GetDB()
	if db == nil {
		return "", errors.New("db is nil")
	}
	var conns []models.StorefrontConnection
	if err := db.WithContext(c.Request.Context()).
		Order("id").
		Limit(2).
		Find(&conns).Error; err != nil {
		return "", err
	}
	return soleConnectedStore(conns)
}

func soleConnectedStore(conns []models.StorefrontConnection) (string, error) {
	switch len(conns) {
	case 0:
		return "", errors.New("store_id is required")
	case 1:
		return conns[0].StoreId, nil
	default:
		return "", errors.New("store_id is required when multiple stores are connected")
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
