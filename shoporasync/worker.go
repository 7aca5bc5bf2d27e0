package shoporasync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/synctrack"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("shopora-sync")

type shoporaProduct struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Sku           string      `json:"sku"`
	Category      string      `json:"category"`
	Description   string      `json:"description"`
	Active        *bool       `json:"active"`
	Price         json.Number `json:"price"`
	StockQuantity json.Number `json:"stock_quantity"`
	ImageURL      string      `json:"image_url"`
	UpdatedAt     string      `json:"updated_at"`
}

type shoporaOrder struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	Status      string             `json:"status"`
	Currency    string             `json:"currency"`
	TotalAmount json.Number        `json:"total_amount"`
	PlacedAt    string             `json:"placed_at"`
	Customer    shoporaOrderBuyer  `json:"customer"`
	Items       []shoporaOrderItem `json:"items"`
	UpdatedAt   string             `json:"updated_at"`
}

type shoporaOrderBuyer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type shoporaOrderItem struct {
	ID         string      `json:"id"`
	ProductId  string      `json:"product_id"`
	Name       string      `json:"name"`
	Quantity   json.Number `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	TotalPrice json.Number `json:"total_price"`
}

type shoporaCustomer struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
	OrdersCount json.Number `json:"orders_count"`
	TotalSpent  json.Number `json:"total_spent"`
	UpdatedAt   string      `json:"updated_at"`
}

// runProgress throttles counter updates to the shared progress record. Once a
// write comes back stale the record belongs to someone else (a reconciler or
// a newer run) and all further reports for this run are dropped.
type runProgress struct {
	tracker  *synctrack.Tracker
	logger   *logrus.Logger
	recordId uint
	current  int
	total    int
	stale    bool
}

func (p *runProgress) addTotal(n int) {
	if n > 0 {
		p.total += n
	}
}

func (p *runProgress) step(ctx context.Context, n int) {
	p.current += n
	if p.current > p.total {
		p.total = p.current
	}
	p.report(ctx)
}

func (p *runProgress) report(ctx context.Context) {
	if p.recordId == 0 || p.stale {
		return
	}
	err := p.tracker.Report(ctx, p.recordId, p.current, p.total, "")
	if errors.Is(err, synctrack.ErrStaleWrite) {
		p.stale = true
		p.logger.WithField("progress_id", p.recordId).Info("progress record superseded; dropping further reports")
		return
	}
	if err != nil {
		config.LogError(p.logger, "shoporasync", "report", "progress update", p.recordId, err)
	}
}

func processSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	logger := config.GetLogger()
	if payload.StoreId == "" || payload.ConnectionId == 0 {
		return errors.New("invalid payload")
	}

	ctx = utils.SetStoreIdInContext(ctx, payload.StoreId)
	ctx, span := tracer.Start(ctx, "shopora.sync-run")
	defer span.End()

	db := config.GetDB().WithContext(ctx)

	conn, err := models.GetConnectionByID(ctx, db, payload.ConnectionId)
	if err != nil {
		return err
	}
	if conn == nil || conn.StoreId != payload.StoreId {
		return errors.New("connection not found")
	}
	if conn.Status != models.ConnectionStatusConnected {
		return errors.New("shopora not connected")
	}

	// Cross-instance guard. Correctness rests on the tracker's single active
	// record per store; the lock only avoids burning API quota on a duplicate
	// delivery.
	if locker := config.GetRedisLock(); locker != nil {
		lock, lockErr := locker.Obtain(ctx, "shoporasync:"+payload.StoreId, 10*time.Minute, nil)
		if lockErr == nil {
			defer lock.Release(ctx)
		} else if errors.Is(lockErr, redislock.ErrNotObtained) {
			logger.WithField("store_id", payload.StoreId).Info("another instance holds the sync lock; skipping run")
			return nil
		}
	}

	tracker := getTracker()
	recorder := synctrack.NewHistoryRecorder(config.GetDB(), logger)

	progress := &runProgress{tracker: tracker, logger: logger}
	rec, err := tracker.Start(ctx, payload.StoreId, conn.ID)
	if err != nil {
		// Progress bookkeeping is not worth aborting the sync over; the run
		// proceeds without a visible record.
		config.LogError(logger, "shoporasync", "processSyncRun", "tracker start", payload.StoreId, err)
	} else {
		progress.recordId = rec.ID
	}

	client, err := newShoporaClient(conn.AuthSecretRef)
	if err != nil {
		if progress.recordId != 0 {
			if finishErr := tracker.Finish(ctx, progress.recordId, models.SyncProgressStatusFailed, err.Error()); finishErr != nil && !errors.Is(finishErr, synctrack.ErrStaleWrite) {
				config.LogError(logger, "shoporasync", "processSyncRun", "tracker finish", payload.StoreId, finishErr)
			}
		}
		if recErr := recorder.Record(ctx, payload.StoreId, 0, 0, models.SyncProgressStatusFailed, err.Error()); recErr != nil {
			config.LogError(logger, "shoporasync", "processSyncRun", "history record", payload.StoreId, recErr)
		}
		return err
	}

	modules := EffectiveModules(conn.SettingsJSON, payload.Modules)
	cursorState := DecodeCursorState(conn.CursorStateJSON)

	productsSynced := 0
	ordersSynced := 0
	customersSynced := 0
	var moduleErrs []string

	if modules.Products {
		count, newCursor, newUpdatedSince, err := syncProducts(ctx, db, *conn, client, cursorState.Products, progress)
		productsSynced = count
		if err != nil {
			moduleErrs = append(moduleErrs, "products: "+err.Error())
			config.LogError(logger, "shoporasync", "syncProducts", payload.StoreId, cursorState.Products, err)
		} else {
			cursorState.Products = CursorEntry{UpdatedSince: newUpdatedSince, Cursor: newCursor}
		}
	}

	if modules.Orders {
		count, newCursor, newUpdatedSince, err := syncOrders(ctx, db, *conn, client, cursorState.Orders, progress)
		ordersSynced = count
		if err != nil {
			moduleErrs = append(moduleErrs, "orders: "+err.Error())
			config.LogError(logger, "shoporasync", "syncOrders", payload.StoreId, cursorState.Orders, err)
		} else {
			cursorState.Orders = CursorEntry{UpdatedSince: newUpdatedSince, Cursor: newCursor}
		}
	}

	if modules.Customers {
		count, newCursor, newUpdatedSince, err := syncCustomers(ctx, db, *conn, client, cursorState.Customers, progress)
		customersSynced = count
		if err != nil {
			moduleErrs = append(moduleErrs, "customers: "+err.Error())
			config.LogError(logger, "shoporasync", "syncCustomers", payload.StoreId, cursorState.Customers, err)
		} else {
			cursorState.Customers = CursorEntry{UpdatedSince: newUpdatedSince, Cursor: newCursor}
		}
	}

	totalSynced := productsSynced + ordersSynced + customersSynced
	status := models.SyncProgressStatusCompleted
	if len(moduleErrs) > 0 && totalSynced == 0 {
		status = models.SyncProgressStatusFailed
	}
	errMsg := strings.Join(moduleErrs, "; ")

	if progress.recordId != 0 {
		progress.report(ctx)
		if err := tracker.Finish(ctx, progress.recordId, status, errMsg); err != nil && !errors.Is(err, synctrack.ErrStaleWrite) {
			config.LogError(logger, "shoporasync", "processSyncRun", "tracker finish", payload.StoreId, err)
		}
	}

	if err := recorder.Record(ctx, payload.StoreId, ordersSynced, productsSynced, status, errMsg); err != nil {
		config.LogError(logger, "shoporasync", "processSyncRun", "history record", payload.StoreId, err)
	}

	finishedAt := time.Now()
	connUpdates := map[string]interface{}{
		"last_sync_at":      finishedAt,
		"cursor_state_json": EncodeCursorState(cursorState),
	}
	if status == models.SyncProgressStatusCompleted {
		connUpdates["last_success_sync_at"] = finishedAt
	}
	if err := db.Model(&models.StorefrontConnection{}).
		Where("id = ?", conn.ID).
		Updates(connUpdates).Error; err != nil {
		config.LogError(logger, "shoporasync", "processSyncRun", "connection update", conn.ID, err)
	}

	logger.WithFields(logrus.Fields{
		"store_id":  payload.StoreId,
		"status":    status,
		"products":  productsSynced,
		"orders":    ordersSynced,
		"customers": customersSynced,
	}).Info("shopora sync run finished")
	return nil
}

func syncProducts(ctx context.Context, db *gorm.DB, conn models.StorefrontConnection, client *shoporaClient, cursor CursorEntry, progress *runProgress) (int, string, string, error) {
	updatedSince := resolveUpdatedSince(cursor, conn)
	nextCursor := strings.TrimSpace(cursor.Cursor)
	total := 0
	firstPage := true

	for {
		resp, err := client.listProducts(ctx, updatedSince, nextCursor)
		if err != nil {
			return total, nextCursor, updatedSince, err
		}

		items := resp.Data
		if len(items) == 0 {
			items = resp.Items
		}
		if firstPage {
			firstPage = false
			if resp.TotalCount != nil {
				progress.addTotal(*resp.TotalCount)
			}
		}
		if resp.TotalCount == nil {
			progress.addTotal(len(items))
		}

		synced := 0
		for _, raw := range items {
			var prod shoporaProduct
			if err := json.Unmarshal(raw, &prod); err != nil {
				config.LogError(config.GetLogger(), "shoporasync", "syncProducts", "invalid payload", string(raw), err)
				continue
			}
			extID := strings.TrimSpace(prod.ID)
			if extID == "" {
				continue
			}

			name := strings.TrimSpace(prod.Name)
			if name == "" {
				name = "Shopora Product " + extID
			}
			active := true
			if prod.Active != nil {
				active = *prod.Active
			}

			input := &models.Product{
				StoreId:       conn.StoreId,
				ExternalId:    extID,
				Name:          name,
				Sku:           strings.TrimSpace(prod.Sku),
				Category:      strings.TrimSpace(prod.Category),
				Description:   strings.TrimSpace(prod.Description),
				Price:         decimalFromNumber(prod.Price),
				StockQuantity: intFromNumber(prod.StockQuantity),
				Active:        active,
				ImageURL:      strings.TrimSpace(prod.ImageURL),
				SyncedAt:      time.Now().UTC(),
			}
			if _, err := models.UpsertSyncedProduct(ctx, db, input); err != nil {
				config.LogError(config.GetLogger(), "shoporasync", "syncProducts", extID, input, err)
				continue
			}
			synced++
		}
		total += synced
		progress.step(ctx, synced)

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return total, resp.NextCursor, updatedSince, nil
		}
		nextCursor = resp.NextCursor
	}
}

func syncOrders(ctx context.Context, db *gorm.DB, conn models.StorefrontConnection, client *shoporaClient, cursor CursorEntry, progress *runProgress) (int, string, string, error) {
	updatedSince := resolveUpdatedSince(cursor, conn)
	nextCursor := strings.TrimSpace(cursor.Cursor)
	total := 0
	firstPage := true

	for {
		resp, err := client.listOrders(ctx, updatedSince, nextCursor)
		if err != nil {
			return total, nextCursor, updatedSince, err
		}

		items := resp.Data
		if len(items) == 0 {
			items = resp.Items
		}
		if firstPage {
			firstPage = false
			if resp.TotalCount != nil {
				progress.addTotal(*resp.TotalCount)
			}
		}
		if resp.TotalCount == nil {
			progress.addTotal(len(items))
		}

		synced := 0
		for _, raw := range items {
			var order shoporaOrder
			if err := json.Unmarshal(raw, &order); err != nil {
				config.LogError(config.GetLogger(), "shoporasync", "syncOrders", "invalid payload", string(raw), err)
				continue
			}
			extID := strings.TrimSpace(order.ID)
			if extID == "" {
				continue
			}

			orderNumber := strings.TrimSpace(order.OrderNumber)
			if orderNumber == "" {
				orderNumber = "SHOPORA-" + extID
			}

			var orderItems []models.OrderItem
			for _, item := range order.Items {
				qty := intFromNumber(item.Quantity)
				if qty <= 0 {
					qty = 1
				}
				unitPrice := decimalFromNumber(item.UnitPrice)
				totalPrice := decimalFromNumber(item.TotalPrice)
				if totalPrice.IsZero() {
					totalPrice = unitPrice.Mul(decimal.NewFromInt(int64(qty)))
				}
				name := strings.TrimSpace(item.Name)
				if name == "" {
					name = "Shopora Item"
				}
				orderItems = append(orderItems, models.OrderItem{
					ProductExternalId: strings.TrimSpace(item.ProductId),
					Name:              name,
					Quantity:          qty,
					UnitPrice:         unitPrice,
					TotalPrice:        totalPrice,
				})
			}

			input := &models.Order{
				StoreId:       conn.StoreId,
				ExternalId:    extID,
				OrderNumber:   orderNumber,
				Status:        normalizeOrderStatus(order.Status),
				CustomerName:  strings.TrimSpace(order.Customer.Name),
				CustomerEmail: normalizeEmail(order.Customer.Email),
				CustomerPhone: normalizePhone(order.Customer.Phone),
				Currency:      strings.TrimSpace(order.Currency),
				TotalAmount:   decimalFromNumber(order.TotalAmount),
				PlacedAt:      parseTimePtr(order.PlacedAt),
				SyncedAt:      time.Now().UTC(),
				Items:         orderItems,
			}
			if _, err := models.UpsertSyncedOrder(ctx, db, input); err != nil {
				config.LogError(config.GetLogger(), "shoporasync", "syncOrders", extID, input, err)
				continue
			}
			synced++
		}
		total += synced
		progress.step(ctx, synced)

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return total, resp.NextCursor, updatedSince, nil
		}
		nextCursor = resp.NextCursor
	}
}

func syncCustomers(ctx context.Context, db *gorm.DB, conn models.StorefrontConnection, client *shoporaClient, cursor CursorEntry, progress *runProgress) (int, string, string, error) {
	updatedSince := resolveUpdatedSince(cursor, conn)
	nextCursor := strings.TrimSpace(cursor.Cursor)
	total := 0
	firstPage := true

	for {
		resp, err := client.listCustomers(ctx, updatedSince, nextCursor)
		if err != nil {
			return total, nextCursor, updatedSince, err
		}

		items := resp.Data
		if len(items) == 0 {
			items = resp.Items
		}
		if firstPage {
			firstPage = false
			if resp.TotalCount != nil {
				progress.addTotal(*resp.TotalCount)
			}
		}
		if resp.TotalCount == nil {
			progress.addTotal(len(items))
		}

		synced := 0
		for _, raw := range items {
			var cust shoporaCustomer
			if err := json.Unmarshal(raw, &cust); err != nil {
				config.LogError(config.GetLogger(), "shoporasync", "syncCustomers", "invalid payload", string(raw), err)
				continue
			}
			extID := strings.TrimSpace(cust.ID)
			if extID == "" {
				continue
			}

			name := strings.TrimSpace(cust.Name)
			if name == "" {
				name = "Shopora Customer " + extID
			}

			input := &models.Customer{
				StoreId:     conn.StoreId,
				ExternalId:  extID,
				Name:        name,
				Email:       normalizeEmail(cust.Email),
				Phone:       normalizePhone(cust.Phone),
				OrdersCount: intFromNumber(cust.OrdersCount),
				TotalSpent:  decimalFromNumber(cust.TotalSpent),
				SyncedAt:    time.Now().UTC(),
			}
			if _, err := models.UpsertSyncedCustomer(ctx, db, input); err != nil {
				config.LogError(config.GetLogger(), "shoporasync", "syncCustomers", extID, input, err)
				continue
			}
			synced++
		}
		total += synced
		progress.step(ctx, synced)

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return total, resp.NextCursor, updatedSince, nil
		}
		nextCursor = resp.NextCursor
	}
}

func resolveUpdatedSince(cursor CursorEntry, conn models.StorefrontConnection) string {
	updatedSince := strings.TrimSpace(cursor.UpdatedSince)
	if updatedSince == "" && conn.LastSuccessSyncAt != nil {
		updatedSince = conn.LastSuccessSyncAt.UTC().Format(time.RFC3339)
	}
	if updatedSince == "" {
		updatedSince = time.Now().Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	}
	return updatedSince
}

// normalizePhone keeps only phone numbers that parse for the configured
// region; the dashboard shows them verbatim.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if err := utils.ValidatePhoneNumber(phone, utils.CountryCode); err != nil {
		return ""
	}
	return phone
}

func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" || !utils.IsValidEmail(email) {
		return ""
	}
	return email
}

func normalizeOrderStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "pending", "paid", "fulfilled", "shipped", "delivered", "canceled", "cancelled", "refunded":
		if status == "cancelled" {
			return "canceled"
		}
		return status
	default:
		return "pending"
	}
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func intFromNumber(num json.Number) int {
	if num.String() == "" {
		return 0
	}
	if n, err := num.Int64(); err == nil {
		return int(n)
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return int(d.IntPart())
	}
	return 0
}

func parseTimePtr(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	return nil
}
