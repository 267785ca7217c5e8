package httpserver

import (
	"github.com/labstack/echo/v4"
)

type Deps struct {
	Auth     *AuthHTTP
	Products *ProductHTTP
	Cart     *CartHTTP
	Search   *SearchHTTP
	AuthMW   *AuthMiddleware
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.Auth.Register)
	v1.POST("/login", d.Auth.Login)
	v1.POST("/logout", d.Auth.Logout)

	products := v1.Group("/products")
	products.GET("", d.Products.GetProducts)
	products.GET("/:id", d.Products.GetProduct)

	if d.Search != nil {
		v1.GET("/search", d.Search.Search)
	}

	admin := v1.Group("/admin", d.AuthMW.RequireAdmin)
	admin.POST("/products", d.Products.CreateProduct)
	admin.PATCH("/products/:id", d.Products.PatchProduct)
	admin.DELETE("/products/:id", d.Products.DeleteProduct)

	cart := v1.Group("/cart", d.AuthMW.RequireUser)
	cart.GET("", d.Cart.GetCart)
	cart.POST("/items", d.Cart.AddToCart)
	cart.DELETE("/items/:id", d.Cart.RemoveLine)
	cart.POST("/checkout", d.Cart.Checkout)
}
