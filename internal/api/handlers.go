package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/command"
	"github.com/adeyemio/smart-meter-service/internal/config"
	"github.com/adeyemio/smart-meter-service/internal/db"
	"github.com/adeyemio/smart-meter-service/internal/meter"
	"github.com/adeyemio/smart-meter-service/internal/purchase"
	"github.com/adeyemio/smart-meter-service/internal/realtime"
)

// Handler serves the dashboard and meter-firmware endpoints
type Handler struct {
	meter     *meter.Service
	purchases *purchase.Service
	commands  *command.Service
	broker    *realtime.Broker
	watcher   *meter.Watcher
	cfg       *config.Config
	logger    *zap.Logger
}

// NewHandler creates a new API handler. The watcher tracks the default
// device and may be nil in tests.
func NewHandler(
	meterSvc *meter.Service,
	purchaseSvc *purchase.Service,
	commandSvc *command.Service,
	broker *realtime.Broker,
	watcher *meter.Watcher,
	cfg *config.Config,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		meter:     meterSvc,
		purchases: purchaseSvc,
		commands:  commandSvc,
		broker:    broker,
		watcher:   watcher,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/devices/:id/status", h.DeviceStatus)
		v1.GET("/devices/:id/readings", h.Readings)
		v1.GET("/devices/:id/power/hourly", h.HourlyPower)
		v1.GET("/devices/:id/power/daily", h.DailyPower)
		v1.GET("/devices/:id/alerts", h.Alerts)
		v1.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
		v1.POST("/devices/:id/purchases", h.CreatePurchase)
		v1.GET("/devices/:id/purchases", h.PurchaseHistory)
		v1.GET("/devices/:id/commands/pending", h.PendingCommands)
		v1.POST("/commands/:id/acknowledge", h.AcknowledgeCommand)
		v1.GET("/commands/:id", h.CommandStatus)
		v1.GET("/devices/:id/stream", h.Stream)
	}
}

// Health reports liveness and the watched default device's online state
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok", "service": h.cfg.ServiceName}

	if h.watcher != nil {
		if latest, ok := h.watcher.Latest(); ok {
			resp["default_device"] = gin.H{
				"device_id": h.cfg.DefaultDeviceID,
				"online":    latest.Online,
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// deviceID resolves the device path parameter; the literal "default" maps to
// the configured default device.
func (h *Handler) deviceID(c *gin.Context) string {
	id := c.Param("id")
	if id == "default" {
		return h.cfg.DefaultDeviceID
	}
	return id
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be numeric"})
		return 0, false
	}
	return id, true
}

// DeviceStatus returns the latest status row plus the derived online flag.
// A read failure degrades to a null status with an error message.
func (h *Handler) DeviceStatus(c *gin.Context) {
	result, err := h.meter.Status(c.Request.Context(), h.deviceID(c))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": nil, "online": false, "error": "Failed to load device status"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Readings returns the most recent readings, newest first
func (h *Handler) Readings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	readings, err := h.meter.RecentReadings(c.Request.Context(), h.deviceID(c), limit)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"readings": []db.MeterReading{}, "error": "Failed to load readings"})
		return
	}
	if readings == nil {
		readings = []db.MeterReading{}
	}

	c.JSON(http.StatusOK, gin.H{"readings": readings})
}

// HourlyPower returns hourly average power buckets
func (h *Handler) HourlyPower(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))

	buckets, err := h.meter.HourlyPowerAvg(c.Request.Context(), h.deviceID(c), hours)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"buckets": []db.HourlyPowerAvg{}, "error": "Failed to load hourly power"})
		return
	}
	if buckets == nil {
		buckets = []db.HourlyPowerAvg{}
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// DailyPower returns daily power consumption buckets
func (h *Handler) DailyPower(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	buckets, err := h.meter.DailyPowerConsumption(c.Request.Context(), h.deviceID(c), days)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"buckets": []db.DailyPowerConsumption{}, "error": "Failed to load daily consumption"})
		return
	}
	if buckets == nil {
		buckets = []db.DailyPowerConsumption{}
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// Alerts returns recent alerts with the unacknowledged count
func (h *Handler) Alerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	result, err := h.meter.Alerts(c.Request.Context(), h.deviceID(c), limit)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []db.Alert{}, "unacknowledged_count": 0, "error": "Failed to load alerts"})
		return
	}
	if result.Alerts == nil {
		result.Alerts = []db.Alert{}
	}

	c.JSON(http.StatusOK, result)
}

// AcknowledgeAlert marks an alert acknowledged
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	alertID, ok := parseID(c)
	if !ok {
		return
	}

	acked, err := h.meter.AcknowledgeAlert(c.Request.Context(), alertID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to acknowledge alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"acknowledged": acked})
}

// CreatePurchase validates and executes a unit purchase
func (h *Handler) CreatePurchase(c *gin.Context) {
	var req purchase.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	purchaseID, err := h.purchases.Create(c.Request.Context(), h.deviceID(c), req)
	if err != nil {
		var vErr *purchase.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Purchase failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "purchase_id": purchaseID})
}

// PurchaseHistory returns recent purchases with completed-only aggregates
func (h *Handler) PurchaseHistory(c *gin.Context) {
	result, err := h.purchases.History(c.Request.Context(), h.deviceID(c))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"purchases": []db.UnitPurchase{}, "count": 0, "error": "Failed to load purchase history"})
		return
	}
	if result.Purchases == nil {
		result.Purchases = []db.UnitPurchase{}
	}

	c.JSON(http.StatusOK, result)
}

// PendingCommands hands queued commands to the polling meter firmware
func (h *Handler) PendingCommands(c *gin.Context) {
	commands, err := h.commands.Pending(c.Request.Context(), h.deviceID(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load pending commands"})
		return
	}
	if commands == nil {
		commands = []db.MeterCommand{}
	}

	c.JSON(http.StatusOK, gin.H{"commands": commands})
}

// AcknowledgeCommand settles a command the meter has applied
func (h *Handler) AcknowledgeCommand(c *gin.Context) {
	commandID, ok := parseID(c)
	if !ok {
		return
	}

	acked, err := h.commands.Acknowledge(c.Request.Context(), commandID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to acknowledge command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"acknowledged": acked})
}

// CommandStatus returns one command row
func (h *Handler) CommandStatus(c *gin.Context) {
	commandID, ok := parseID(c)
	if !ok {
		return
	}

	cmd, err := h.commands.Status(c.Request.Context(), commandID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load command"})
		return
	}
	if cmd == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Command not found"})
		return
	}

	c.JSON(http.StatusOK, cmd)
}
