package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/hhledger/internal/handlers/ownerctx"
	"github.com/nkiryanov/hhledger/internal/handlers/render"
	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/models"
	"github.com/nkiryanov/hhledger/internal/repository"
)

const defaultTransactionsLimit = 20

func handleGetBalance(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		UserID             string    `json:"userId"`
		CurrentBalance     int64     `json:"currentBalance"`
		DailyChargedAmount int64     `json:"dailyChargedAmount"`
		LastUpdatedAt      time.Time `json:"lastUpdatedAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		balance, err := ledgerService.GetBalance(r.Context(), ownerID)
		if err != nil {
			renderError(w, l, "Failed to get balance", err)
			return
		}

		render.JSON(w, response{
			UserID:             balance.OwnerID.String(),
			CurrentBalance:     balance.Current,
			DailyChargedAmount: balance.DailyCharged,
			LastUpdatedAt:      balance.UpdatedAt,
		})
	})
}

func handleCharge(ledgerService ledgerService, l logger.Logger) http.Handler {
	type request struct {
		Amount int64 `json:"amount" validate:"gt=0"`
	}

	type response struct {
		UserID             string    `json:"userId"`
		TransactionID      int64     `json:"transactionId"`
		ChargedAmount      int64     `json:"chargedAmount"`
		CurrentBalance     int64     `json:"currentBalance"`
		DailyChargedAmount int64     `json:"dailyChargedAmount"`
		ChargedAt          time.Time `json:"chargedAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		charge, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		change, err := ledgerService.Charge(r.Context(), ownerID, charge.Amount)
		if err != nil {
			renderError(w, l, "Failed to charge balance", err)
			return
		}

		render.JSON(w, response{
			UserID:             change.OwnerID.String(),
			TransactionID:      change.TransactionID,
			ChargedAmount:      change.Amount,
			CurrentBalance:     change.After,
			DailyChargedAmount: change.DailyCharged,
			ChargedAt:          change.CreatedAt,
		})
	})
}

type transactionsQuery struct {
	Kinds  []string `json:"kinds" validate:"dive,txkind"`
	Limit  int      `json:"limit" validate:"gte=1,lte=100"`
	Offset int      `json:"offset" validate:"gte=0"`
}

func handleListTransactions(ledgerService ledgerService, l logger.Logger) http.Handler {
	type transaction struct {
		ID              int64     `json:"id"`
		TransactionType string    `json:"transactionType"`
		Amount          int64     `json:"amount"`
		BalanceBefore   int64     `json:"balanceBefore"`
		BalanceAfter    int64     `json:"balanceAfter"`
		Description     string    `json:"description,omitempty"`
		CreatedAt       time.Time `json:"createdAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		q, err := parseTransactionsQuery(r)
		if err != nil {
			render.CodedError(w, "INVALID_PARAMETER", err.Error(), nil, http.StatusBadRequest)
			return
		}
		if err := render.Validate(w, q); err != nil {
			return
		}

		opts := repository.ListTransactionsOpts{Limit: q.Limit, Offset: q.Offset}
		for _, k := range q.Kinds {
			opts.Kinds = append(opts.Kinds, models.TransactionKind(strings.ToUpper(k)))
		}

		txs, err := ledgerService.ListTransactions(r.Context(), ownerID, opts)
		if err != nil {
			renderError(w, l, "Failed to list transactions", err)
			return
		}

		res := make([]transaction, 0, len(txs))
		for _, t := range txs {
			res = append(res, transaction{
				ID:              t.ID,
				TransactionType: string(t.Kind),
				Amount:          t.Amount,
				BalanceBefore:   t.BalanceBefore,
				BalanceAfter:    t.BalanceAfter,
				Description:     t.Description,
				CreatedAt:       t.CreatedAt,
			})
		}
		render.JSON(w, res)
	})
}

// Read "kinds" (comma separated or repeated), "limit" and "offset" query params
func parseTransactionsQuery(r *http.Request) (transactionsQuery, error) {
	values := r.URL.Query()
	q := transactionsQuery{Limit: defaultTransactionsLimit}

	for _, v := range values["kinds"] {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				q.Kinds = append(q.Kinds, k)
			}
		}
	}

	var err error
	if v := values.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, errors.New("limit must be an integer")
		}
	}
	if v := values.Get("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil {
			return q, errors.New("offset must be an integer")
		}
	}

	return q, nil
}
