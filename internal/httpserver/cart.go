package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/andrelucass/fruteira/internal/logging"
	"github.com/andrelucass/fruteira/internal/service/cart"
)

type CartHTTP struct {
	Svc *cart.Service
}

func (h *CartHTTP) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.get")

	uid, err := userID(c)
	if err != nil {
		return err
	}

	lines, err := h.Svc.ListCart(ctx, uid)
	if err != nil {
		l.Error("get_cart_error", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"items": lines,
		"total": cart.ComputeTotal(lines),
	})
}

func (h *CartHTTP) AddToCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.add")

	uid, err := userID(c)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id"`
		Quantity  *int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("add_to_cart_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	item, err := h.Svc.AddToCart(ctx, uid, req.ProductID, qty)
	if err != nil {
		switch {
		case errors.Is(err, cart.ErrValidation):
			l.Warn("add_to_cart_error", "status", 400, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, cart.ErrNotFound):
			l.Warn("add_to_cart_error", "status", 404, "product_id", req.ProductID)
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		case errors.Is(err, cart.ErrInsufficientStock):
			l.Warn("add_to_cart_error", "status", 409, "error", err)
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			l.Error("add_to_cart_error", "status", 500, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	l.Info("cart item added", "product_id", item.ProductID, "quantity", item.Quantity)
	return c.JSON(http.StatusCreated, item)
}

func (h *CartHTTP) RemoveLine(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.remove")

	uid, err := userID(c)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.Svc.RemoveLine(ctx, uid, uint(id)); err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			l.Warn("remove_line_error", "status", 404, "line_id", id)
			return echo.NewHTTPError(http.StatusNotFound, "cart line not found")
		}
		l.Error("remove_line_error", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("cart line removed", "line_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (h *CartHTTP) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.checkout")

	uid, err := userID(c)
	if err != nil {
		return err
	}

	conf, err := h.Svc.Checkout(ctx, uid)
	if err != nil {
		switch {
		case errors.Is(err, cart.ErrEmptyCart):
			l.Warn("checkout_error", "status", 400, "reason", "empty cart")
			return echo.NewHTTPError(http.StatusBadRequest, "cart is empty")
		case errors.Is(err, cart.ErrInsufficientStock):
			l.Warn("checkout_error", "status", 409, "error", err)
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, cart.ErrNotFound):
			l.Warn("checkout_error", "status", 404, "error", err)
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		default:
			l.Error("checkout_error", "status", 500, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	l.Info("checkout completed", "order", conf.Number, "total", conf.Total)
	return c.JSON(http.StatusCreated, conf)
}
