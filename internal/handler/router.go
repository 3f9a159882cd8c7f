package handler

import (
	"net/http"
	"reflect"
	"strings"

	"sproutmarket/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// jsonTagName 校验错误使用 json 字段名
func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// SetupRouter 配置路由
func SetupRouter(s Services, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonTagName)
	}

	r := gin.New()
	// 三张图片加表单字段
	r.MaxMultipartMemory = (cfg.Server.MaxUploadMB*3 + 1) << 20

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(s)
	auth := AuthMiddleware(s.Auth)
	optional := OptionalAuth(s.Auth)

	api := r.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/verify-email", h.VerifyEmail)
			authGroup.POST("/login", h.Login)
			authGroup.POST("/forgot-password", h.ForgotPassword)
			authGroup.POST("/reset-password", h.ResetPassword)
			authGroup.POST("/logout", auth, h.Logout)
		}

		me := api.Group("/users/me", auth)
		{
			me.GET("", h.GetProfile)
			me.PATCH("", h.UpdateProfile)
			me.GET("/balance", h.GetBalance)
			me.POST("/withdraw", h.Withdraw)
		}

		transactions := api.Group("/transactions", auth)
		{
			transactions.GET("", h.ListTransactions)
			transactions.GET("/:id", h.GetTransaction)
		}

		categories := api.Group("/categories")
		{
			categories.GET("", h.ListCategories)
			categories.GET("/:slug", h.GetCategory)
			categories.GET("/:slug/products", h.CategoryProducts)
		}

		products := api.Group("/products")
		{
			products.GET("", h.ListProducts)
			products.GET("/featured", h.FeaturedProducts)
			products.GET("/mine", auth, h.MyProducts)
			products.GET("/:id", optional, h.GetProduct)
			products.POST("", auth, h.CreateProduct)
			products.PATCH("/:id", auth, h.UpdateProduct)
			products.DELETE("/:id", auth, h.DeleteProduct)
			products.POST("/:id/reactivate", auth, h.ReactivateProduct)
		}

		cart := api.Group("/cart", auth)
		{
			cart.GET("", h.GetCart)
			cart.DELETE("", h.ClearCart)
			cart.POST("/items", h.AddCartItem)
			cart.PATCH("/items/:product_id", h.UpdateCartItem)
			cart.DELETE("/items/:product_id", h.RemoveCartItem)
		}

		checkout := api.Group("/checkout", auth)
		{
			checkout.POST("/initiate", h.InitiateCheckout)
			checkout.POST("/confirm", h.ConfirmPayment)
		}

		orders := api.Group("/orders", auth)
		{
			orders.GET("", h.ListOrders)
			orders.GET("/recent", h.RecentOrders)
			orders.GET("/stats", h.OrderStats)
			orders.GET("/:id", h.GetOrder)
		}

		sales := api.Group("/sales", auth)
		{
			sales.GET("", h.ListSales)
			sales.GET("/stats", h.SalesStats)
		}

		exchanges := api.Group("/exchanges")
		{
			exchanges.GET("", h.ListExchanges)
			exchanges.POST("/payment-intent", auth, h.ExchangePaymentIntent)
			exchanges.POST("", auth, h.CreateExchange)
			exchanges.GET("/mine", auth, h.MyExchanges)
			exchanges.GET("/:id", optional, h.GetExchange)
			exchanges.PATCH("/:id", auth, h.UpdateExchange)
			exchanges.DELETE("/:id", auth, h.CancelExchange)
			exchanges.POST("/:id/reactivate", auth, h.ReactivateExchange)
			exchanges.GET("/:id/offers", auth, h.ExchangeOffers)
			exchanges.GET("/:id/offer-stats", auth, h.ExchangeOfferStats)
		}

		offers := api.Group("/exchange-offers", auth)
		{
			offers.POST("", h.CreateOffer)
			offers.GET("/mine", h.MyOffers)
			offers.GET("/:id", h.GetOffer)
			offers.POST("/:id/respond", h.RespondToOffer)
		}

		notifications := api.Group("/notifications", auth)
		{
			notifications.GET("", h.ListNotifications)
			notifications.GET("/unread-count", h.UnreadCount)
			notifications.GET("/recent", h.RecentNotifications)
			notifications.GET("/stats", h.NotificationStats)
			notifications.POST("/read-all", h.MarkAllRead)
			notifications.DELETE("/clear-all", h.ClearAllNotifications)
			notifications.DELETE("/clear-read", h.ClearReadNotifications)
			notifications.GET("/:id", h.GetNotification)
			notifications.POST("/:id/read", h.MarkRead)
			notifications.DELETE("/:id", h.DeleteNotification)
		}

		subscriptions := api.Group("/subscriptions")
		{
			subscriptions.GET("/benefits", h.SubscriptionBenefits)
			subscriptions.POST("/webhook", h.StripeWebhook)
			subscriptions.POST("", auth, h.CreateSubscription)
			subscriptions.POST("/cancel", auth, h.CancelSubscription)
			subscriptions.POST("/reactivate", auth, h.ReactivateSubscription)
			subscriptions.GET("/status", auth, h.SubscriptionStatus)
			subscriptions.GET("/history", auth, h.SubscriptionHistory)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
