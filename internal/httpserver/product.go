package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/andrelucass/fruteira/internal/logging"
	"github.com/andrelucass/fruteira/internal/service/catalog"
	"github.com/andrelucass/fruteira/internal/upload"
)

type ProductHTTP struct {
	Svc    *catalog.Service
	Images *upload.Store
}

func (h *ProductHTTP) GetProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	prod, err := h.Svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, prod)
}

func (h *ProductHTTP) GetProducts(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	items, total, err := h.Svc.List(c.Request().Context(), page, size)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if page < 1 {
		page = 1
	}
	limit := len(items)
	if size > 0 && size <= 100 {
		limit = size
	} else if limit == 0 {
		limit = 10
	}

	return c.JSON(http.StatusOK, echo.Map{
		"data": items,
		"meta": echo.Map{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

func (h *ProductHTTP) CreateProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.create")

	in, err := h.bindProductInput(c)
	if err != nil {
		l.Warn("create_product_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	prod, err := h.Svc.Create(ctx, *in)
	if err != nil {
		if errors.Is(err, catalog.ErrValidation) {
			l.Warn("create_product_error", "status", 400, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		l.Error("create_product_error", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("product created", "product_id", prod.ID)
	return c.JSON(http.StatusCreated, prod)
}

func (h *ProductHTTP) PatchProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.patch")

	id, err := pathID(c)
	if err != nil {
		return err
	}

	in, err := h.bindProductInput(c)
	if err != nil {
		l.Warn("patch_product_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	prod, err := h.Svc.Update(ctx, id, *in)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrValidation):
			l.Warn("patch_product_error", "status", 400, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, catalog.ErrNotFound):
			l.Warn("patch_product_error", "status", 404, "product_id", id)
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		default:
			l.Error("patch_product_error", "status", 500, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	l.Info("product updated", "product_id", prod.ID)
	return c.JSON(http.StatusOK, prod)
}

func (h *ProductHTTP) DeleteProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.delete")

	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := h.Svc.Delete(ctx, id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			l.Warn("delete_product_error", "status", 404, "product_id", id)
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		l.Error("delete_product_error", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("product deleted", "product_id", id)
	return c.NoContent(http.StatusNoContent)
}

// bindProductInput accepts either JSON (image by URL) or a multipart form
// with an uploaded image file. An uploaded file wins over an image field.
func (h *ProductHTTP) bindProductInput(c echo.Context) (*catalog.ProductInput, error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)

	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		price, err := strconv.ParseFloat(c.FormValue("price"), 64)
		if err != nil {
			return nil, errors.New("price must be a number")
		}
		count, err := strconv.Atoi(c.FormValue("count"))
		if err != nil {
			return nil, errors.New("count must be an integer")
		}
		in := catalog.ProductInput{
			Name:        c.FormValue("name"),
			Price:       price,
			Description: c.FormValue("description"),
			Image:       c.FormValue("image"),
			Count:       count,
		}

		if fh, err := c.FormFile("image_file"); err == nil && h.Images != nil {
			name, err := h.Images.Save(fh)
			if err != nil {
				return nil, err
			}
			in.Image = name
		}
		return &in, nil
	}

	var in catalog.ProductInput
	if err := c.Bind(&in); err != nil {
		return nil, errors.New("invalid body")
	}
	return &in, nil
}

func pathID(c echo.Context) (uint, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}
