package handler

import (
	"net/http"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /cartのHTTP
type CartHandler struct {
	uc *usecase.CartUsecase
}

// DI
func NewCartHandler(uc *usecase.CartUsecase) *CartHandler {
	return &CartHandler{uc: uc}
}

type IncrementLineRequest struct {
	ProductID string `json:"product_id"`
	Delta     int64  `json:"delta"`
}

type SetLineRequest struct {
	Quantity int64 `json:"quantity"`
}

// /cart, /cart/lines/{productID} を登録
func (h *CartHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/cart")
	g.Use(middleware.AuthJWT(cfg))

	g.GET("", h.getCart)
	g.DELETE("", h.clear)
	g.POST("/lines", h.incrementLine)
	g.PUT("/lines/:productID", h.setLine)
	g.DELETE("/lines/:productID", h.removeLine)
}

func (h *CartHandler) getCart(c echo.Context) error {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: usecase.CodeUnauthenticated})
	}

	view, err := h.uc.GetCart(c.Request().Context(), ownerID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, view.ToJSON())
}

func (h *CartHandler) incrementLine(c echo.Context) error {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: usecase.CodeUnauthenticated})
	}

	//deltaが整数でなければBindで落ちる
	var req IncrementLineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	view, err := h.uc.IncrementLine(c.Request().Context(), ownerID, usecase.IncrementLineInput{
		ProductID: req.ProductID,
		Delta:     req.Delta,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, view.ToJSON())
}

func (h *CartHandler) setLine(c echo.Context) error {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: usecase.CodeUnauthenticated})
	}

	var req SetLineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	view, err := h.uc.SetLine(c.Request().Context(), ownerID, c.Param("productID"), usecase.SetLineInput{
		Quantity: req.Quantity,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, view.ToJSON())
}

func (h *CartHandler) removeLine(c echo.Context) error {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: usecase.CodeUnauthenticated})
	}

	view, err := h.uc.RemoveLine(c.Request().Context(), ownerID, c.Param("productID"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, view.ToJSON())
}

func (h *CartHandler) clear(c echo.Context) error {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: usecase.CodeUnauthenticated})
	}

	view, err := h.uc.Clear(c.Request().Context(), ownerID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, view.ToJSON())
}
