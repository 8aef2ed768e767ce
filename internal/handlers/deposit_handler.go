package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/luckrush/backend/internal/services"
	"github.com/spf13/viper"
)

type DepositHandler struct {
	service   *services.DepositService
	validator *services.ValidationHelper
}

func NewDepositHandler(service *services.DepositService) *DepositHandler {
	return &DepositHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// ListPackages lists purchasable coin packages
// @Summary List coin packages
// @Tags deposits
// @Produce json
// @Success 200 {array} services.Package
// @Router /deposits/packages [get]
func (h *DepositHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(services.ListPackages())
}

// Create starts a coin package purchase
// @Summary Start a deposit
// @Description Creates a pending purchase and returns the payment reference and checkout QR code
// @Tags deposits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{packageId=string} true "Package selection"
// @Success 201 {object} object{depositId=string,reference=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /deposits [post]
func (h *DepositHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	uid, err := strconv.Atoi(userID)
	if err != nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		PackageID string `json:"packageId" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if _, ok := services.GetPackage(req.PackageID); !ok {
		services.SendErrorResponse(w, "Unknown package", http.StatusBadRequest, nil)
		return
	}

	depositID, reference, qrImage, err := h.service.Create(r.Context(), uid, req.PackageID)
	if err != nil {
		log.Printf("[DEPOSIT] Failed to create deposit for user %d: %v", uid, err)
		services.SendErrorResponse(w, "Failed to create deposit", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"depositId": depositID,
		"reference": reference,
		"qrImage":   qrImage,
	})
}

// Confirm is the payment processor confirmation webhook
// @Summary Confirm a deposit
// @Description Credits the purchased package after the processor confirms payment
// @Tags deposits
// @Accept json
// @Produce json
// @Param request body object{reference=string} true "Payment reference"
// @Success 200 {object} object{balance=models.Balance}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /deposits/confirm [post]
func (h *DepositHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	secret := viper.GetString("webhook.secret")
	if secret == "" || r.Header.Get("X-Webhook-Secret") != secret {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Reference string `json:"reference" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	balance, err := h.service.Confirm(r.Context(), req.Reference)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance": balance})
}
