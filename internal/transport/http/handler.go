package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// Services bundles what the handlers call into.
type Services struct {
	Transfers *service.TransferService
	Accounts  *service.AccountService
	History   *service.HistoryService
	Tokens    *auth.TokenManager
}

func RegisterHandlers(r *gin.Engine, svc Services) {
	v1 := r.Group("/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", registerHandler(svc.Accounts))
		authGroup.POST("/login", loginHandler(svc.Accounts))
	}

	userOnly := AuthMiddleware(svc.Tokens, model.RoleUser)
	agentOnly := AuthMiddleware(svc.Tokens, model.RoleAgent)
	parties := AuthMiddleware(svc.Tokens, model.RoleUser, model.RoleAgent)
	adminOnly := AuthMiddleware(svc.Tokens, model.RoleAdmin)
	anyRole := AuthMiddleware(svc.Tokens)

	tx := v1.Group("/transactions")
	{
		tx.POST("/add-money", userOnly, transferHandler(svc.Transfers, model.KindAddMoney, "Money added successfully"))
		tx.POST("/withdraw", userOnly, transferHandler(svc.Transfers, model.KindWithdraw, "Withdrawal successful"))
		tx.POST("/send-money", userOnly, transferHandler(svc.Transfers, model.KindSendMoney, "Money sent successfully"))
		tx.POST("/cash-in", agentOnly, transferHandler(svc.Transfers, model.KindCashIn, "Cash-in successful"))
		tx.POST("/cash-out", agentOnly, transferHandler(svc.Transfers, model.KindCashOut, "Cash-out successful"))
		tx.GET("", parties, historyHandler(svc.History))
		tx.GET("/all", adminOnly, listAllHandler(svc.History))
	}

	v1.GET("/wallet/balance", parties, balanceHandler(svc.Accounts))
	v1.GET("/dashboard", parties, dashboardHandler(svc.History))

	me := v1.Group("/users/me", anyRole)
	{
		me.GET("", getMeHandler(svc.Accounts))
		me.PATCH("", updateMeHandler(svc.Accounts))
	}

	admin := v1.Group("/admin", adminOnly)
	{
		admin.PATCH("/accounts/:id/status", statusHandler(svc.Accounts))
		admin.GET("/users", listAccountsHandler(svc.Accounts))
		admin.GET("/wallets", listWalletsHandler(svc.Accounts))
	}
}

func ok(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "data": data})
}

type transferReq struct {
	ID             string           `json:"id" binding:"required"`
	Amount         *decimal.Decimal `json:"amount" binding:"required"`
	IdempotencyKey string           `json:"idempotency_key" binding:"max=64"`
}

// transferHandler takes the initiator from the token and the counterparty from the body.
func transferHandler(svc *service.TransferService, kind model.Kind, msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "Missing required parameters"))
			return
		}
		counterparty, err := uuid.Parse(req.ID)
		if err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid id"))
			return
		}
		claims := claimsFrom(c)
		t, err := svc.Transfer(c.Request.Context(), kind, claims.AccountID, counterparty, *req.Amount, req.IdempotencyKey)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, msg, t)
	}
}

func historyHandler(svc *service.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q service.HistoryQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid query"))
			return
		}
		txs, meta, err := svc.GetHistory(c.Request.Context(), claimsFrom(c).AccountID, q)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Transaction history fetched successfully",
			"meta":    meta,
			"data":    txs,
		})
	}
}

func listAllHandler(svc *service.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q service.HistoryQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid query"))
			return
		}
		txs, meta, err := svc.ListAll(c.Request.Context(), q)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, "Transactions fetched successfully", gin.H{"data": txs, "meta": meta})
	}
}

func balanceHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.GetBalance(c.Request.Context(), claimsFrom(c).AccountID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, "Balance fetched successfully", gin.H{"balance": bal})
	}
}

type registerReq struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Phone    string `json:"phone"`
	Role     string `json:"role" binding:"omitempty,oneof=user agent"`
}

func registerHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "name, valid email, password (min 6) and role user|agent are expected"))
			return
		}
		acc, w, err := svc.Register(c.Request.Context(), service.RegisterInput{
			Name: req.Name, Email: req.Email, Password: req.Password, Phone: req.Phone, Role: model.Role(req.Role),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "User created successfully",
			"data":    gin.H{"user": acc, "wallet": w},
		})
	}
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "email and password are required"))
			return
		}
		tok, acc, err := svc.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, "Logged in successfully", gin.H{"accessToken": tok, "user": acc})
	}
}

type statusReq struct {
	UserStatus   *string `json:"userStatus"`
	AgentStatus  *string `json:"agentStatus"`
	WalletStatus *string `json:"status"`
}

func statusHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid id"))
			return
		}
		var req statusReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
			return
		}
		var u service.StatusUpdate
		if req.UserStatus != nil {
			s := model.UserStatus(*req.UserStatus)
			u.UserStatus = &s
		}
		if req.AgentStatus != nil {
			s := model.AgentStatus(*req.AgentStatus)
			u.AgentStatus = &s
		}
		if req.WalletStatus != nil {
			s := model.WalletStatus(*req.WalletStatus)
			u.WalletStatus = &s
		}
		acc, w, err := svc.UpdateStatus(c.Request.Context(), id, u)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, "Status updated successfully", gin.H{"user": acc, "wallet": w})
	}
}

func getMeHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, w, err := svc.GetMe(c.Request.Context(), claimsFrom(c).AccountID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, "Your profile retrieved successfully", gin.H{"user": acc, "wallet": w})
	}
}

type updateMeReq struct {
	Name        *string `json:"name" binding:"omitempty,min=2,max=50"`
	Phone       *string `json:"phone" binding:"omitempty,max=32"`
	Password    string  `json:"password"`
	OldPassword string  `json:"oldPassword"`
}

func updateMeHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateMeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
			return
		}
		acc, err := svc.UpdateMe(c.Request.Context(), claimsFrom(c).AccountID, service.ProfileUpdate{
			Name: req.Name, Phone: req.Phone, Password: req.Password, OldPassword: req.OldPassword,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, "Profile updated successfully", acc)
	}
}

type pageReq struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func listAccountsHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q pageReq
		if err := c.ShouldBindQuery(&q); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid query"))
			return
		}
		accs, meta, err := svc.ListAccounts(c.Request.Context(), q.Page, q.Limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "All users retrieved successfully", "meta": meta, "data": accs})
	}
}

func listWalletsHandler(svc *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q pageReq
		if err := c.ShouldBindQuery(&q); err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid query"))
			return
		}
		ws, meta, err := svc.ListWallets(c.Request.Context(), q.Page, q.Limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "All wallets retrieved successfully", "meta": meta, "data": ws})
	}
}

func dashboardHandler(svc *service.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.Dashboard(c.Request.Context(), claimsFrom(c).AccountID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, "Dashboard data retrieved successfully", d)
	}
}
