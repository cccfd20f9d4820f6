package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/johanbring/timedollar/internal/audit"
	"github.com/johanbring/timedollar/internal/config"
	"github.com/johanbring/timedollar/internal/mail"
	"github.com/johanbring/timedollar/internal/models"
	"github.com/johanbring/timedollar/internal/service"
	"github.com/sirupsen/logrus"
)

// Engine is the slice of the reconciliation engine the HTTP surface uses.
type Engine interface {
	Initiate(ctx context.Context, counterparty string, amount float64, message string) (*models.Transaction, error)
	ReconcileInbox(ctx context.Context) (*service.ReconcileReport, error)
	ListAndTotal(ctx context.Context) ([]models.Transaction, float64, error)
}

type Handler struct {
	svc      Engine
	settings *config.Settings
	cfg      *config.Config
	log      *logrus.Logger
}

func NewHandler(svc Engine, settings *config.Settings, cfg *config.Config, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, settings: settings, cfg: cfg, log: log}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type transactionRequest struct {
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"`
	Message      string `json:"message"`
}

// Login authenticates against the configured mail account and issues a token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if h.settings.Email == "" || req.Email != h.settings.Email || req.Password != h.settings.Password {
		h.respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   req.Email,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.log.Infof("Account logged in: %s", req.Email)
	h.respondJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

// CreateTransaction triggers the outbound flow
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	amount, err := strconv.ParseFloat(req.Amount, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	tx, err := h.svc.Initiate(r.Context(), req.Counterparty, amount, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrDelivery):
			h.respondError(w, http.StatusBadGateway, err.Error())
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.respondJSON(w, http.StatusCreated, tx)
}

// Reconcile triggers an inbound reconciliation pass
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ReconcileInbox(r.Context())
	if err != nil {
		if errors.Is(err, mail.ErrAuth) {
			h.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// GetLedger lists all transactions with the running total
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	txs, total, err := h.svc.ListAndTotal(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":        total,
		"transactions": txs,
	})
}

// ExportLedger renders the ledger as an XML audit document
func (h *Handler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	txs, total, err := h.svc.ListAndTotal(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data, err := audit.ExportXML(txs, total)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg string) {
	h.respondJSON(w, code, map[string]string{"error": msg})
}
