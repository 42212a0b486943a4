// services/payment_service.go
package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"casino-live-system/models"
	"casino-live-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// brl renders centavo amounts the way the gateway and receipts expect
// ("R$ 1.234,56").
var brl = message.NewPrinter(language.BrazilianPortuguese)

func formatBRL(centavos int64) string {
	return brl.Sprintf("R$ %.2f", float64(centavos)/100)
}

// PaymentGatewayClient talks to the external PIX gateway. The gateway is a
// collaborator: we only create charges/payouts and consume its webhook.
type PaymentGatewayClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewPaymentGatewayClient() *PaymentGatewayClient {
	baseURL := os.Getenv("PAYMENT_GATEWAY_URL")
	if baseURL == "" {
		log.Fatal("PAYMENT_GATEWAY_URL environment variable not set")
	}
	token := os.Getenv("PAYMENT_GATEWAY_TOKEN")
	if token == "" {
		log.Fatal("PAYMENT_GATEWAY_TOKEN environment variable not set")
	}
	return &PaymentGatewayClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

type gatewayCustomer struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Document string  `json:"document"`
	Phone    *string `json:"phone"`
}

type gatewayPix struct {
	ExpiresInDays int    `json:"expiresInDays"`
	Key           string `json:"key"`
	Description   string `json:"description"`
}

type gatewayChargeRequest struct {
	Amount      string          `json:"amount"`
	Customer    gatewayCustomer `json:"customer"`
	Pix         gatewayPix      `json:"pix"`
	PostbackURL string          `json:"postbackUrl"`
	Metadata    string          `json:"metadata"`
}

type gatewayChargeResponse struct {
	IDTransaction string `json:"idTransaction"`
	QRCode        string `json:"qrCode"`
	CopyPaste     string `json:"copyPaste"`
}

func (g *PaymentGatewayClient) post(path string, body, out interface{}) error {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", g.BaseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.Token)

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s returned %d: %s", path, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

// CreatePixCharge opens a pending PIX charge and returns the gateway
// transaction reference plus QR payload.
func (g *PaymentGatewayClient) CreatePixCharge(req gatewayChargeRequest) (*gatewayChargeResponse, error) {
	var out gatewayChargeResponse
	if err := g.post("/v1/pix/charges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePixPayout requests a withdrawal payout.
func (g *PaymentGatewayClient) CreatePixPayout(amount string, pixKey, reference string) error {
	body := map[string]string{
		"amount":    amount,
		"pixKey":    pixKey,
		"reference": reference,
	}
	return g.post("/v1/pix/payouts", body, nil)
}

// PaymentService brokers plan purchases and withdrawals through the gateway.
// Core match/feed logic has no dependency on any of this.
type PaymentService struct {
	DB      *gorm.DB
	Gateway *PaymentGatewayClient
	Wallets *WalletService
}

func NewPaymentService(db *gorm.DB, gateway *PaymentGatewayClient, wallets *WalletService) *PaymentService {
	return &PaymentService{DB: db, Gateway: gateway, Wallets: wallets}
}

// ListPlans returns the purchasable plans.
func (s *PaymentService) ListPlans(c *fiber.Ctx) error {
	var plans []models.Plan
	if err := s.DB.Where("active = ?", true).Order("price ASC").Find(&plans).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(plans)
}

type createPaymentRequest struct {
	PlanName string `json:"plan_name"`
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		CPF   string `json:"cpf"`
	} `json:"customer"`
}

// CreatePlanPayment creates a pending payment row and a PIX charge for it.
func (s *PaymentService) CreatePlanPayment(c *fiber.Ctx) error {
	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Customer.CPF == "" {
		return c.Status(400).JSON(fiber.Map{"error": "CPF is required for PIX payments"})
	}
	userID := c.Locals("user_id").(string)

	var plan models.Plan
	if err := s.DB.Where("name = ? AND active = ?", req.PlanName, true).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "plan not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	metadata, _ := json.Marshal(fiber.Map{
		"customer":      req.Customer,
		"plan_name":     plan.Name,
		"plan_duration": plan.DurationHours,
	})
	payment := models.Payment{
		ID:       uuid.NewString(),
		UserID:   userID,
		PlanID:   plan.ID,
		Amount:   plan.Price,
		Status:   models.PaymentStatusPending,
		Metadata: datatypes.JSON(metadata),
	}
	if err := s.DB.Create(&payment).Error; err != nil {
		log.Printf("[Payment] Failed to create payment for user %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create payment"})
	}

	charge, err := s.Gateway.CreatePixCharge(gatewayChargeRequest{
		Amount: fmt.Sprintf("%.2f", float64(plan.Price)/100),
		Customer: gatewayCustomer{
			Name:     req.Customer.Name,
			Email:    req.Customer.Email,
			Document: onlyDigits(req.Customer.CPF),
		},
		Pix: gatewayPix{
			ExpiresInDays: 2,
			Key:           "random",
			Description:   fmt.Sprintf("Plano %s — %s", plan.Name, formatBRL(plan.Price)),
		},
		PostbackURL: os.Getenv("PAYMENT_WEBHOOK_URL"),
		Metadata:    string(metadata),
	})
	if err != nil {
		log.Printf("[Payment] Gateway charge failed for payment %s: %v", payment.ID, err)
		return c.Status(502).JSON(fiber.Map{"error": "payment gateway unavailable, try again"})
	}

	if err := s.DB.Model(&payment).Update("transaction_id", charge.IDTransaction).Error; err != nil {
		log.Printf("[Payment] Failed to store transaction id on payment %s: %v", payment.ID, err)
	}

	return c.JSON(fiber.Map{
		"payment_id":     payment.ID,
		"transaction_id": charge.IDTransaction,
		"qr_code":        charge.QRCode,
		"copy_paste":     charge.CopyPaste,
		"amount":         formatBRL(plan.Price),
		"status":         models.PaymentStatusPending,
	})
}

type webhookPayload struct {
	IDTransaction string `json:"idTransaction"`
	Status        string `json:"status"`
}

// HandleWebhook records the gateway callback and, on approval, completes the
// payment. Completion is a conditional pending→completed update, so replayed
// webhooks are no-ops.
func (s *PaymentService) HandleWebhook(c *fiber.Ctx) error {
	var payload webhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	audit := models.PaymentWebhook{
		ID:            uuid.NewString(),
		TransactionID: payload.IDTransaction,
		EventType:     payload.Status,
		Payload:       datatypes.JSON(c.Body()),
	}
	if err := s.DB.Create(&audit).Error; err != nil {
		log.Printf("[Payment] Failed to record webhook for tx %s: %v", payload.IDTransaction, err)
	}

	if payload.Status != "approved" {
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	var payment models.Payment
	if err := s.DB.Where("transaction_id = ?", payload.IDTransaction).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "payment not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	var plan models.Plan
	if err := s.DB.First(&plan, "id = ?", payment.PlanID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	now := time.Now()
	expires := now.Add(time.Duration(plan.DurationHours) * time.Hour)
	res := s.DB.Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusCompleted,
			"paid_at":    &now,
			"expires_at": &expires,
		})
	if res.Error != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if res.RowsAffected == 0 {
		return c.JSON(fiber.Map{"status": "already processed"})
	}

	log.Printf("✅ [Payment] Payment %s completed, plan %s active until %s",
		payment.ID, plan.Name, expires.Format(time.RFC3339))
	return c.JSON(fiber.Map{"status": "completed"})
}

type withdrawalRequest struct {
	Amount int64  `json:"amount"`
	PixKey string `json:"pix_key"`
}

// RequestWithdrawal debits the wallet and opens a payout request. The debit
// is conditional on sufficient balance; the payout call failing leaves the
// withdrawal pending for the operator to retry.
func (s *PaymentService) RequestWithdrawal(c *fiber.Ctx) error {
	var req withdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Amount <= 0 || req.PixKey == "" {
		return c.Status(400).JSON(fiber.Map{"error": "amount and pix_key are required"})
	}
	userID := c.Locals("user_id").(string)

	ok, err := s.Wallets.Debit(userID, req.Amount)
	if err != nil {
		log.Printf("[Payment] Withdrawal debit failed for user %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if !ok {
		return c.Status(422).JSON(fiber.Map{"error": "insufficient balance"})
	}

	withdrawal := models.Withdrawal{
		ID:     uuid.NewString(),
		UserID: userID,
		Amount: req.Amount,
		PixKey: req.PixKey,
		Status: models.PaymentStatusPending,
	}
	if err := s.DB.Create(&withdrawal).Error; err != nil {
		log.Printf("[Payment] Failed to record withdrawal for user %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	if err := s.Gateway.CreatePixPayout(
		fmt.Sprintf("%.2f", float64(req.Amount)/100), req.PixKey, withdrawal.ID,
	); err != nil {
		log.Printf("[Payment] Payout request failed for withdrawal %s (kept pending): %v", withdrawal.ID, err)
	}

	return c.JSON(fiber.Map{
		"withdrawal_id": withdrawal.ID,
		"amount":        formatBRL(req.Amount),
		"status":        withdrawal.Status,
	})
}

func onlyDigits(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, r)
		}
	}
	return string(out)
}
