package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-rewards/internal/domain/auth"
	"github.com/xenking/kart-rewards/internal/domain/reward"
)

func (h *Handler) ListPrizes(w http.ResponseWriter, r *http.Request) {
	prizes, err := h.rewards.Prizes(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range prizes {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
					e.Field("type", func(e *jx.Encoder) { e.Str(string(p.Type)) })
					e.Field("value", func(e *jx.Encoder) { encodeMoney(e, p.Value) })
					e.Field("color", func(e *jx.Encoder) { e.Str(p.Color) })
				})
			}
		})
	})
}

func (h *Handler) SpinEligibility(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUser(r.Context(), h.users)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := h.rewards.CanSpin(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("canSpin", func(e *jx.Encoder) { e.Bool(ok) })
		})
	})
}

// Spin draws a prize for the authenticated customer.
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	out, err := h.rewards.Spin(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("result", func(e *jx.Encoder) { encodeGameResult(e, *out.Result) })
			if out.Coupon != nil {
				e.Field("coupon", func(e *jx.Encoder) { encodeCoupon(e, out.Coupon) })
			}
			if out.Points > 0 {
				e.Field("points", func(e *jx.Encoder) { e.Int64(out.Points) })
			}
			e.Field("fulfilled", func(e *jx.Encoder) { e.Bool(out.FollowUp.OK()) })
		})
	})
}

func (h *Handler) SpinHistory(w http.ResponseWriter, r *http.Request) {
	results, err := h.rewards.History(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, res := range results {
				encodeGameResult(e, res)
			}
		})
	})
}

// Points returns the caller's loyalty balance.
func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUser(r.Context(), h.users)
	if err != nil {
		writeError(w, r, err)
		return
	}
	points, err := h.points.Points(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("points", func(e *jx.Encoder) { e.Int64(points) })
		})
	})
}

// Rank returns the caller's leaderboard position, or null without delivered
// orders.
func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUser(r.Context(), h.users)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rank, err := h.rewards.UserRank(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		if rank == nil {
			e.Null()
			return
		}
		encodeRank(e, *rank)
	})
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := h.leaderboardSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, invalidInput("limit must be a positive integer"))
			return
		}
		limit = min(n, h.leaderboardSize)
	}

	ranks, err := h.rewards.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, rank := range ranks {
				encodeRank(e, rank)
			}
		})
	})
}

func encodeGameResult(e *jx.Encoder, res reward.GameResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(res.ID) })
		e.Field("prizeId", func(e *jx.Encoder) { e.Str(res.PrizeID) })
		e.Field("prizeName", func(e *jx.Encoder) { e.Str(res.PrizeName) })
		e.Field("prizeType", func(e *jx.Encoder) { e.Str(string(res.PrizeType)) })
		e.Field("prizeValue", func(e *jx.Encoder) { encodeMoney(e, res.PrizeValue) })
		if res.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(res.CouponCode) })
		}
		e.Field("redeemed", func(e *jx.Encoder) { e.Bool(res.Redeemed) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, res.CreatedAt) })
	})
}

func encodeRank(e *jx.Encoder, rank reward.Rank) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("position", func(e *jx.Encoder) { e.Int(rank.Position) })
		e.Field("customerId", func(e *jx.Encoder) { e.Str(rank.CustomerID) })
		e.Field("totalSpent", func(e *jx.Encoder) { encodeMoney(e, rank.TotalSpent) })
		e.Field("orderCount", func(e *jx.Encoder) { e.Int(rank.OrderCount) })
		if p := rank.Profile; p != nil {
			e.Field("firstName", func(e *jx.Encoder) { e.Str(p.FirstName) })
			e.Field("lastName", func(e *jx.Encoder) { e.Str(p.LastName) })
			e.Field("photoUrl", func(e *jx.Encoder) { e.Str(p.PhotoURL) })
		}
	})
}
