package router

import (
	"github.com/gin-gonic/gin"

	"github.com/paychan_backend/handler"
)

func SetupRouter(auth *handler.AuthHandler, wallet *handler.WalletHandler, withdraw *handler.WithdrawHandler) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api/v1")
	{
		api.GET("/auth/nonce", auth.GetNonce)
		api.POST("/auth/verify", auth.Verify)
	}

	authorized := api.Group("")
	authorized.Use(auth.Middleware())
	{
		authorized.POST("/withdraw/order", withdraw.CreateOrder)
		authorized.POST("/withdraw/submitted", withdraw.MarkSubmitted)
		authorized.GET("/withdraw/order/:orderId", withdraw.GetOrder)
		authorized.GET("/withdraw/history", wallet.GetWithdrawHistory)
		authorized.GET("/deposit/history", wallet.GetDepositHistory)
		authorized.GET("/balance", wallet.GetBalance)
	}

	return r
}
