package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/hhledger/internal/handlers/ownerctx"
	"github.com/nkiryanov/hhledger/internal/handlers/render"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/models"
)

type couponResponse struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	EventID        string    `json:"eventId"`
	DiscountType   string    `json:"discountType"`
	DiscountValue  string    `json:"discountValue"`
	MinOrderAmount int64     `json:"minOrderAmount"`
	Status         string    `json:"status"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func toCouponResponse(c models.Coupon) couponResponse {
	return couponResponse{
		ID:             c.ID.String(),
		Code:           c.Code,
		EventID:        c.PoolID.String(),
		DiscountType:   string(c.Discount.Type),
		DiscountValue:  c.Discount.Value.String(),
		MinOrderAmount: c.Discount.MinOrderAmount,
		Status:         string(c.Status),
		IssuedAt:       c.IssuedAt,
		ExpiresAt:      c.ExpiresAt,
	}
}

func handleIssueCoupon(couponService couponService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		poolID, err := uuid.Parse(r.PathValue("poolID"))
		if err != nil {
			render.CodedError(w, "INVALID_PARAMETER", "Invalid coupon event id", nil, http.StatusBadRequest)
			return
		}

		coupon, err := couponService.Issue(r.Context(), ownerID, poolID)
		if err != nil {
			renderError(w, l, "Failed to issue coupon", err)
			return
		}

		render.JSONWithStatus(w, toCouponResponse(coupon), http.StatusCreated)
	})
}

func handleListCoupons(couponService couponService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		coupons, err := couponService.ListCoupons(r.Context(), ownerID)
		if err != nil {
			renderError(w, l, "Failed to list coupons", err)
			return
		}

		res := make([]couponResponse, 0, len(coupons))
		for _, c := range coupons {
			res = append(res, toCouponResponse(c))
		}
		render.JSON(w, res)
	})
}
