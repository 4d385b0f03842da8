package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/api"
	"github.com/adeyemio/smart-meter-service/internal/command"
	"github.com/adeyemio/smart-meter-service/internal/config"
	"github.com/adeyemio/smart-meter-service/internal/db"
	"github.com/adeyemio/smart-meter-service/internal/meter"
	"github.com/adeyemio/smart-meter-service/internal/purchase"
	"github.com/adeyemio/smart-meter-service/internal/realtime"
)

// apiStore backs all three services in handler tests
type apiStore struct {
	status    *db.DeviceStatus
	readings  []db.MeterReading
	alerts    []db.Alert
	purchases []db.UnitPurchase
	commands  []db.MeterCommand

	nextPurchaseID int64
	failReads      bool

	ackedAlerts   []int64
	ackedCommands []int64
}

var errStoreDown = errors.New("database unavailable")

func (s *apiStore) GetDeviceStatus(_ context.Context, _ string) (*db.DeviceStatus, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return s.status, nil
}

func (s *apiStore) GetRecentReadings(_ context.Context, _ string, _ int) ([]db.MeterReading, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return s.readings, nil
}

func (s *apiStore) GetReadingsInRange(_ context.Context, _ string, _, _ time.Time) ([]db.MeterReading, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return s.readings, nil
}

func (s *apiStore) GetAlerts(_ context.Context, _ string, _ int) ([]db.Alert, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return s.alerts, nil
}

func (s *apiStore) AcknowledgeAlert(_ context.Context, alertID int64) (bool, error) {
	for i := range s.alerts {
		if s.alerts[i].ID == alertID && !s.alerts[i].Acknowledged {
			s.alerts[i].Acknowledged = true
			s.ackedAlerts = append(s.ackedAlerts, alertID)
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) GetHourlyPowerAvg(_ context.Context, _ string, _ int) ([]db.HourlyPowerAvg, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return nil, nil
}

func (s *apiStore) GetDailyPowerConsumption(_ context.Context, _ string, _ int) ([]db.DailyPowerConsumption, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return nil, nil
}

func (s *apiStore) CreatePurchase(_ context.Context, p *db.UnitPurchase) error {
	s.nextPurchaseID++
	p.ID = s.nextPurchaseID
	p.PaymentStatus = db.PaymentPending
	p.PurchaseDate = time.Now()
	s.purchases = append(s.purchases, *p)
	return nil
}

func (s *apiStore) CompletePurchase(_ context.Context, purchaseID int64, reference string) error {
	for i := range s.purchases {
		if s.purchases[i].ID == purchaseID {
			s.purchases[i].PaymentStatus = db.PaymentCompleted
			s.purchases[i].PaymentReference = &reference
		}
	}
	return nil
}

func (s *apiStore) CreateUnitPurchaseCommand(_ context.Context, deviceID string, units float64, purchaseID int64) (int64, error) {
	data, _ := json.Marshal(map[string]interface{}{"units": units, "purchase_id": purchaseID})
	cmd := db.MeterCommand{
		ID:          int64(len(s.commands) + 1),
		DeviceID:    deviceID,
		CommandType: db.CommandAddUnits,
		CommandData: data,
		Status:      db.CommandPending,
	}
	s.commands = append(s.commands, cmd)
	return cmd.ID, nil
}

func (s *apiStore) GetPurchaseHistory(_ context.Context, _ string, _ int) ([]db.UnitPurchase, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return s.purchases, nil
}

func (s *apiStore) GetPendingCommands(_ context.Context, _ string) ([]db.MeterCommand, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	var pending []db.MeterCommand
	for i := range s.commands {
		if s.commands[i].Status == db.CommandPending {
			s.commands[i].Status = db.CommandSent
			pending = append(pending, s.commands[i])
		}
	}
	return pending, nil
}

func (s *apiStore) AcknowledgeCommand(_ context.Context, commandID int64) (bool, error) {
	for i := range s.commands {
		if s.commands[i].ID == commandID && s.commands[i].Status == db.CommandSent {
			s.commands[i].Status = db.CommandAcknowledged
			s.ackedCommands = append(s.ackedCommands, commandID)
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) GetCommand(_ context.Context, commandID int64) (*db.MeterCommand, error) {
	for i := range s.commands {
		if s.commands[i].ID == commandID {
			return &s.commands[i], nil
		}
	}
	return nil, nil
}

func apiTestConfig() *config.Config {
	return &config.Config{
		ServiceName:     "smart-meter-service",
		DefaultDeviceID: "SM001",
		Purchase:        config.PurchaseConfig{UnitPrice: 50, MaxUnits: 1000},
		Status: config.StatusConfig{
			OnlineWindowMinutes:  5,
			AlertsDefaultLimit:   20,
			ReadingsDefaultLimit: 50,
			PurchaseHistoryLimit: 50,
		},
	}
}

func newTestRouter(store *apiStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := apiTestConfig()
	logger := zap.NewNop()

	meterSvc := meter.NewService(store, cfg, logger)
	purchaseSvc := purchase.NewService(store, purchase.NewValidator(cfg.Purchase.MaxUnits), cfg, logger)
	commandSvc := command.NewService(store, logger)
	broker := realtime.NewBroker(logger)

	h := api.NewHandler(meterSvc, purchaseSvc, commandSvc, broker, nil, cfg, logger)
	router := gin.New()
	h.RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return body
}

func validPurchaseBody() map[string]interface{} {
	return map[string]interface{}{
		"customer_name":  "Jane Doe",
		"customer_email": "jane@example.com",
		"customer_phone": "08012345678",
		"units":          20,
		"payment_method": "card",
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&apiStore{})

	w := doRequest(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestDeviceStatus_Online(t *testing.T) {
	store := &apiStore{
		status: &db.DeviceStatus{DeviceID: "SM001", Voltage: 231.5, LastSeen: time.Now().Add(-time.Minute)},
	}
	router := newTestRouter(store)

	w := doRequest(t, router, http.MethodGet, "/api/v1/devices/default/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["online"] != true {
		t.Errorf("Expected online=true, got %v", body["online"])
	}
}

func TestDeviceStatus_DegradesOnReadFailure(t *testing.T) {
	router := newTestRouter(&apiStore{failReads: true})

	w := doRequest(t, router, http.MethodGet, "/api/v1/devices/SM001/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected degraded 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["status"] != nil {
		t.Errorf("Expected null status, got %v", body["status"])
	}
	if body["error"] == nil {
		t.Error("Expected error message in degraded response")
	}
}

func TestReadings_EmptyListNotNull(t *testing.T) {
	router := newTestRouter(&apiStore{})

	w := doRequest(t, router, http.MethodGet, "/api/v1/devices/SM001/readings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	readings, ok := body["readings"].([]interface{})
	if !ok {
		t.Fatalf("Expected readings array, got %T", body["readings"])
	}
	if len(readings) != 0 {
		t.Errorf("Expected empty readings, got %d", len(readings))
	}
}

func TestCreatePurchase_Success(t *testing.T) {
	store := &apiStore{}
	router := newTestRouter(store)

	w := doRequest(t, router, http.MethodPost, "/api/v1/devices/SM001/purchases", validPurchaseBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("Expected success=true, got %v", body["success"])
	}
	if body["purchase_id"] == nil {
		t.Error("Expected purchase_id in response")
	}

	if len(store.purchases) != 1 {
		t.Fatalf("Expected 1 purchase, got %d", len(store.purchases))
	}
	if store.purchases[0].PaymentStatus != db.PaymentCompleted {
		t.Errorf("Expected completed purchase, got %s", store.purchases[0].PaymentStatus)
	}
	if len(store.commands) != 1 {
		t.Errorf("Expected 1 queued command, got %d", len(store.commands))
	}
}

func TestCreatePurchase_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(map[string]interface{})
		message string
	}{
		{"missing name", func(b map[string]interface{}) { b["customer_name"] = "" }, "Customer name is required"},
		{"zero units", func(b map[string]interface{}) { b["units"] = 0 }, "Units must be between 1 and 1000"},
		{"too many units", func(b map[string]interface{}) { b["units"] = 1001 }, "Units must be between 1 and 1000"},
		{"bad email", func(b map[string]interface{}) { b["customer_email"] = "not-an-email" }, "Invalid email address"},
		{"bad phone", func(b map[string]interface{}) { b["customer_phone"] = "12345" }, "Invalid phone number"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &apiStore{}
			router := newTestRouter(store)

			reqBody := validPurchaseBody()
			tc.mutate(reqBody)

			w := doRequest(t, router, http.MethodPost, "/api/v1/devices/SM001/purchases", reqBody)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", w.Code)
			}

			body := decodeBody(t, w)
			if body["error"] != tc.message {
				t.Errorf("Expected error '%s', got '%v'", tc.message, body["error"])
			}
			if len(store.purchases) != 0 {
				t.Errorf("Expected no purchase record for rejected request")
			}
		})
	}
}

func TestCreatePurchase_MalformedBody(t *testing.T) {
	router := newTestRouter(&apiStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/SM001/purchases", bytes.NewReader([]byte("{broken")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
}

func TestPurchaseHistory_Aggregates(t *testing.T) {
	store := &apiStore{
		purchases: []db.UnitPurchase{
			{ID: 1, UnitsPurchased: 20, AmountPaid: 1000, PaymentStatus: db.PaymentCompleted},
			{ID: 2, UnitsPurchased: 50, AmountPaid: 2500, PaymentStatus: db.PaymentCompleted},
			{ID: 3, UnitsPurchased: 10, AmountPaid: 500, PaymentStatus: db.PaymentFailed},
		},
	}
	router := newTestRouter(store)

	w := doRequest(t, router, http.MethodGet, "/api/v1/devices/SM001/purchases", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["count"] != float64(3) {
		t.Errorf("Expected count 3, got %v", body["count"])
	}
	if body["total_units"] != float64(70) {
		t.Errorf("Expected total_units 70, got %v", body["total_units"])
	}
	if body["total_amount"] != float64(3500) {
		t.Errorf("Expected total_amount 3500, got %v", body["total_amount"])
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	store := &apiStore{
		alerts: []db.Alert{{ID: 7, DeviceID: "SM001", AlertType: db.AlertTamper}},
	}
	router := newTestRouter(store)

	w := doRequest(t, router, http.MethodPost, "/api/v1/alerts/7/acknowledge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["acknowledged"] != true {
		t.Errorf("Expected acknowledged=true, got %v", body["acknowledged"])
	}

	// Second acknowledge is a no-op
	w = doRequest(t, router, http.MethodPost, "/api/v1/alerts/7/acknowledge", nil)
	if body := decodeBody(t, w); body["acknowledged"] != false {
		t.Errorf("Expected acknowledged=false on repeat, got %v", body["acknowledged"])
	}
}

func TestAcknowledgeAlert_NonNumericID(t *testing.T) {
	router := newTestRouter(&apiStore{})

	w := doRequest(t, router, http.MethodPost, "/api/v1/alerts/abc/acknowledge", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
}

func TestPendingCommands_MarksSent(t *testing.T) {
	store := &apiStore{
		commands: []db.MeterCommand{
			{ID: 1, DeviceID: "SM001", CommandType: db.CommandAddUnits, Status: db.CommandPending},
		},
	}
	router := newTestRouter(store)

	w := doRequest(t, router, http.MethodGet, "/api/v1/devices/SM001/commands/pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	commands, _ := body["commands"].([]interface{})
	if len(commands) != 1 {
		t.Fatalf("Expected 1 pending command, got %d", len(commands))
	}
	if store.commands[0].Status != db.CommandSent {
		t.Errorf("Expected command marked sent, got %s", store.commands[0].Status)
	}

	// A second poll gets nothing back
	w = doRequest(t, router, http.MethodGet, "/api/v1/devices/SM001/commands/pending", nil)
	body = decodeBody(t, w)
	commands, _ = body["commands"].([]interface{})
	if len(commands) != 0 {
		t.Errorf("Expected no commands on second poll, got %d", len(commands))
	}
}

func TestCommandLifecycle(t *testing.T) {
	store := &apiStore{}
	router := newTestRouter(store)

	// Purchase queues a command
	w := doRequest(t, router, http.MethodPost, "/api/v1/devices/SM001/purchases", validPurchaseBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}

	// Firmware polls and acknowledges
	doRequest(t, router, http.MethodGet, "/api/v1/devices/SM001/commands/pending", nil)

	w = doRequest(t, router, http.MethodPost, "/api/v1/commands/1/acknowledge", nil)
	if body := decodeBody(t, w); body["acknowledged"] != true {
		t.Fatalf("Expected acknowledged=true, got %v", body["acknowledged"])
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/commands/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != db.CommandAcknowledged {
		t.Errorf("Expected acknowledged status, got %v", body["status"])
	}
}

func TestCommandStatus_NotFound(t *testing.T) {
	router := newTestRouter(&apiStore{})

	w := doRequest(t, router, http.MethodGet, "/api/v1/commands/99", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}
