package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"casino-live-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "R$ 1.234,56", formatBRL(123456))
	assert.Equal(t, "R$ 0,00", formatBRL(0))
	assert.Equal(t, "R$ 19,90", formatBRL(1990))
}

func seedPlan(t *testing.T, db *gorm.DB) models.Plan {
	t.Helper()
	plan := models.Plan{
		ID:            uuid.NewString(),
		Name:          "mensal",
		Price:         4990,
		DurationHours: 30 * 24,
		Active:        true,
	}
	require.NoError(t, db.Create(&plan).Error)
	return plan
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestCreatePlanPayment(t *testing.T) {
	db := testDB(t)
	plan := seedPlan(t, db)

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pix/charges", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{
			"idTransaction": "tx-1",
			"qrCode":        "data:image/png;base64,abc",
			"copyPaste":     "00020126pix",
		})
	}))
	defer gateway.Close()

	svc := NewPaymentService(db, &PaymentGatewayClient{
		BaseURL: gateway.URL,
		Token:   "test-token",
		Client:  gateway.Client(),
	}, NewWalletService(db))

	app := fiber.New()
	app.Post("/payments", func(c *fiber.Ctx) error {
		c.Locals("user_id", "alice")
		return svc.CreatePlanPayment(c)
	})

	resp := postJSON(t, app, "/payments", fiber.Map{
		"plan_name": plan.Name,
		"customer": fiber.Map{
			"name":  "Alice",
			"email": "alice@example.com",
			"cpf":   "123.456.789-09",
		},
	})
	require.Equal(t, 200, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "tx-1", out["transaction_id"])
	assert.Equal(t, "R$ 49,90", out["amount"])

	var payment models.Payment
	require.NoError(t, db.First(&payment, "user_id = ?", "alice").Error)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "tx-1", payment.TransactionID)
	assert.EqualValues(t, plan.Price, payment.Amount)
}

func TestCreatePlanPaymentRequiresCPF(t *testing.T) {
	db := testDB(t)
	seedPlan(t, db)
	svc := NewPaymentService(db, &PaymentGatewayClient{BaseURL: "http://unused", Token: "t", Client: http.DefaultClient}, nil)

	app := fiber.New()
	app.Post("/payments", func(c *fiber.Ctx) error {
		c.Locals("user_id", "alice")
		return svc.CreatePlanPayment(c)
	})

	resp := postJSON(t, app, "/payments", fiber.Map{
		"plan_name": "mensal",
		"customer":  fiber.Map{"name": "Alice", "email": "a@b.c"},
	})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHandleWebhookCompletesOnce(t *testing.T) {
	db := testDB(t)
	plan := seedPlan(t, db)

	payment := models.Payment{
		ID:            uuid.NewString(),
		UserID:        "alice",
		PlanID:        plan.ID,
		Amount:        plan.Price,
		Status:        models.PaymentStatusPending,
		TransactionID: "tx-9",
	}
	require.NoError(t, db.Create(&payment).Error)

	svc := NewPaymentService(db, nil, nil)
	app := fiber.New()
	app.Post("/payments/webhook", svc.HandleWebhook)

	// unrelated status: recorded but ignored
	resp := postJSON(t, app, "/payments/webhook", fiber.Map{"idTransaction": "tx-9", "status": "pending"})
	require.Equal(t, 200, resp.StatusCode)

	var pending models.Payment
	require.NoError(t, db.First(&pending, "id = ?", payment.ID).Error)
	assert.Equal(t, models.PaymentStatusPending, pending.Status)

	// approval completes the payment and stamps the expiry window
	resp = postJSON(t, app, "/payments/webhook", fiber.Map{"idTransaction": "tx-9", "status": "approved"})
	require.Equal(t, 200, resp.StatusCode)

	var completed models.Payment
	require.NoError(t, db.First(&completed, "id = ?", payment.ID).Error)
	assert.Equal(t, models.PaymentStatusCompleted, completed.Status)
	require.NotNil(t, completed.PaidAt)
	require.NotNil(t, completed.ExpiresAt)
	wantExpiry := completed.PaidAt.Add(time.Duration(plan.DurationHours) * time.Hour)
	assert.WithinDuration(t, wantExpiry, *completed.ExpiresAt, time.Minute)

	// replayed webhook is a no-op
	firstPaidAt := *completed.PaidAt
	resp = postJSON(t, app, "/payments/webhook", fiber.Map{"idTransaction": "tx-9", "status": "approved"})
	require.Equal(t, 200, resp.StatusCode)

	var replayed models.Payment
	require.NoError(t, db.First(&replayed, "id = ?", payment.ID).Error)
	assert.Equal(t, firstPaidAt.Unix(), replayed.PaidAt.Unix())

	// every callback lands in the audit table
	var audits int64
	require.NoError(t, db.Model(&models.PaymentWebhook{}).Where("transaction_id = ?", "tx-9").Count(&audits).Error)
	assert.EqualValues(t, 3, audits)
}

func TestRequestWithdrawalDebitsWallet(t *testing.T) {
	db := testDB(t)
	wallets := NewWalletService(db)
	require.NoError(t, wallets.ProcessGameResult("alice", "tictactoe-ai", models.GameResultWin))

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pix/payouts", r.URL.Path)
		w.WriteHeader(200)
	}))
	defer gateway.Close()

	svc := NewPaymentService(db, &PaymentGatewayClient{
		BaseURL: gateway.URL,
		Token:   "test-token",
		Client:  gateway.Client(),
	}, wallets)

	app := fiber.New()
	app.Post("/withdrawals", func(c *fiber.Ctx) error {
		c.Locals("user_id", "alice")
		return svc.RequestWithdrawal(c)
	})

	resp := postJSON(t, app, "/withdrawals", fiber.Map{"amount": WinCredit, "pix_key": "alice@pix"})
	require.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 0, balance(t, wallets, "alice"))

	var withdrawal models.Withdrawal
	require.NoError(t, db.First(&withdrawal, "user_id = ?", "alice").Error)
	assert.EqualValues(t, WinCredit, withdrawal.Amount)
	assert.Equal(t, models.PaymentStatusPending, withdrawal.Status)

	// second attempt: wallet is empty
	resp = postJSON(t, app, "/withdrawals", fiber.Map{"amount": WinCredit, "pix_key": "alice@pix"})
	assert.Equal(t, 422, resp.StatusCode)
}
