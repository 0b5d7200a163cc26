package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-rewards/internal/domain/order"
)

type orderItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items      []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	CouponCode string             `json:"couponCode" validate:"max=64"`
}

func (req *placeOrderRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item orderItemRequest
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "productId":
						item.ProductID, err = d.Str()
					case "quantity":
						item.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "couponCode":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			req.CouponCode = s
			return err
		default:
			return d.Skip()
		}
	})
}

// PlaceOrder prices and stores an order for the authenticated customer.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeBody(w, r, req.Decode); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, order.ErrEmptyItems)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]order.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Items:      items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		if result == nil {
			writeError(w, r, err)
			return
		}
		// The order is stored; redemption bookkeeping failed.
		zctx.From(r.Context()).Warn("Order placed without coupon redemption",
			zap.String("order_id", result.Order.ID),
			zap.Error(err),
		)
	}

	o := result.Order
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, item := range o.Items {
						e.Obj(func(e *jx.Encoder) {
							e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
						})
					}
				})
			})
			e.Field("products", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, p := range result.Products {
						h.encodeProduct(e, p)
					}
				})
			})
			e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Subtotal) })
			e.Field("shipping", func(e *jx.Encoder) { encodeMoney(e, o.Shipping) })
			e.Field("discounts", func(e *jx.Encoder) { encodeMoney(e, o.Discounts) })
			e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
			if o.CouponCode != "" {
				e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
			}
			e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		})
	})
}

// UpdateOrderStatus moves an order to a new fulfilment state.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	if err := decodeBody(w, r, func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "status" {
				return d.Skip()
			}
			var err error
			status, err = d.Str()
			return err
		})
	}); err != nil {
		writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.orders.UpdateStatus(r.Context(), id, order.Status(status)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(id) })
			e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		})
	})
}
