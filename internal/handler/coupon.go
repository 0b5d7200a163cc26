package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
)

type validateCouponRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	OrderAmount decimal.Decimal
	hasAmount   bool
}

func (req *validateCouponRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			req.Code, err = d.Str()
		case "orderAmount":
			req.OrderAmount, err = decodeDecimal(d)
			req.hasAmount = err == nil
		default:
			err = d.Skip()
		}
		return err
	})
}

type couponRequest struct {
	Code               string `json:"code" validate:"required,max=64"`
	Type               string `json:"type" validate:"required,oneof=percentage fixed_amount free_shipping"`
	Value              decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	MaximumDiscount    *decimal.Decimal
	UsageLimit         *int      `json:"usageLimit" validate:"omitnil,gte=0"`
	ExpirationDate     time.Time `json:"expirationDate" validate:"required"`
	Active             bool
}

func (req *couponRequest) Decode(d *jx.Decoder) error {
	req.Active = true
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			req.Code, err = d.Str()
		case "type":
			req.Type, err = d.Str()
		case "value":
			req.Value, err = decodeDecimal(d)
		case "minimumOrderAmount":
			req.MinimumOrderAmount, err = decodeDecimal(d)
		case "maximumDiscount":
			req.MaximumDiscount, err = decodeOptDecimal(d)
		case "usageLimit":
			req.UsageLimit, err = decodeOptInt(d)
		case "expirationDate":
			req.ExpirationDate, err = decodeTime(d)
		case "isActive":
			req.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
}

func (req *couponRequest) draft() coupon.Draft {
	return coupon.Draft{
		Code:               req.Code,
		Type:               coupon.Type(req.Type),
		Value:              req.Value,
		MinimumOrderAmount: req.MinimumOrderAmount,
		MaximumDiscount:    req.MaximumDiscount,
		UsageLimit:         req.UsageLimit,
		ExpiresAt:          req.ExpirationDate,
		Active:             req.Active,
	}
}

// ValidateCoupon checks a code against an order amount. Rejections are a
// normal 200 response with valid=false.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decodeBody(w, r, req.Decode); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.hasAmount {
		writeError(w, r, invalidInput("orderAmount is required"))
		return
	}

	v, err := h.coupons.Validate(r.Context(), req.Code, req.OrderAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(v.Valid()) })
			if !v.Valid() {
				e.Field("reason", func(e *jx.Encoder) { e.Str(string(v.Rejection.Reason)) })
				e.Field("message", func(e *jx.Encoder) { e.Str(v.Rejection.Message) })
				return
			}
			e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, v.Discount) })
			e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(v.Coupon.Type == coupon.TypeFreeShipping) })
			e.Field("coupon", func(e *jx.Encoder) { encodeCoupon(e, v.Coupon) })
		})
	})
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range coupons {
				encodeCoupon(e, &coupons[i])
			}
		})
	})
}

func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCouponRequest(w, r)
	if !ok {
		return
	}
	c, err := h.coupons.Create(r.Context(), req.draft())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCouponRequest(w, r)
	if !ok {
		return
	}
	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "id"), req.draft())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeCouponRequest(w http.ResponseWriter, r *http.Request) (*couponRequest, bool) {
	var req couponRequest
	if err := decodeBody(w, r, req.Decode); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return &req, true
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("value", func(e *jx.Encoder) { encodeMoney(e, c.Value) })
		e.Field("minimumOrderAmount", func(e *jx.Encoder) { encodeMoney(e, c.MinimumOrderAmount) })
		e.Field("maximumDiscount", func(e *jx.Encoder) {
			if c.MaximumDiscount == nil {
				e.Null()
				return
			}
			encodeMoney(e, *c.MaximumDiscount)
		})
		e.Field("usageLimit", func(e *jx.Encoder) {
			if c.UsageLimit == nil {
				e.Null()
				return
			}
			e.Int(*c.UsageLimit)
		})
		e.Field("usageCount", func(e *jx.Encoder) { e.Int(c.UsageCount) })
		e.Field("expirationDate", func(e *jx.Encoder) { encodeTime(e, c.ExpiresAt) })
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.Active) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, c.CreatedAt) })
	})
}
