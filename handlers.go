package main

import (
	"errors"
	"net/http"
	"time"

	"kumbara/models"
	"kumbara/pkg/recurring"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

var (
	ruleStore *gormRuleStore
	ledger    *gormLedger
	sched     *recurring.Scheduler
)

func setupRoutes(r *gin.Engine) {
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.GET("/balances", balancesHandler)
	authGroup.GET("/transactions", listTransactionsHandler)
	authGroup.POST("/transactions", createTransactionHandler)
	authGroup.POST("/recurring", createRecurringHandler)
	authGroup.GET("/recurring", listRecurringHandler)
	authGroup.PUT("/recurring/:id", updateRecurringHandler)
	authGroup.DELETE("/recurring/:id", deleteRecurringHandler)
	authGroup.POST("/recurring/evaluate", evaluateRecurringHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		userID, _ := claims["user_id"].(float64)
		username, _ := claims["username"].(string)
		c.Set("user_id", uint(userID))
		c.Set("username", username)
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	usernameVal, _ := c.Get("username")
	if usernameVal == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing username"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": usernameVal.(string)})
}

// getUserFromContext fetches the currently authenticated user using the id set
// by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	idVal, _ := c.Get("user_id")
	if idVal == nil {
		return nil, false
	}
	var user models.User
	if err := db.First(&user, idVal.(uint)).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := RegisterUser(req.Username, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := issueAccessToken(user, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// refreshHandler exchanges a refresh token for a new access token and rotates
// the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tokenString, err := issueAccessToken(user, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

// balancesHandler returns the three account buckets, defaulting to zero for
// accounts that have never been touched.
func balancesHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var rows []models.Balance
	if err := db.Where("user_id = ?", user.ID).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	balances := gin.H{"cash": decimal.Zero, "bank": decimal.Zero, "savings": decimal.Zero}
	for _, b := range rows {
		balances[b.Account] = b.Amount
	}
	c.JSON(http.StatusOK, balances)
}

func listTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var items []models.Transaction
	err := db.Where("user_id = ?", user.ID).
		Order("date desc, created_at desc").
		Limit(200).
		Find(&items).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

// createTransactionHandler records a manual ledger entry. Income and expense
// go through the same atomic append-plus-balance path the recurring engine
// uses; transfers move the amount between two accounts.
func createTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Type        string          `json:"type" binding:"required"`
		Amount      decimal.Decimal `json:"amount" binding:"required"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
		Account     string          `json:"account" binding:"required"`
		ToAccount   string          `json:"to_account"`
		Date        string          `json:"date"` // optional, YYYY-MM-DD, defaults to today
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	if !validAccount(req.Account) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown account"})
		return
	}
	date := recurring.DateOnly(time.Now())
	if req.Date != "" {
		t, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = recurring.DateOnly(t)
	}

	switch req.Type {
	case "income", "expense":
		tx, err := ledger.AppendTransaction(c.Request.Context(), recurring.Transaction{
			OwnerID:     user.ID,
			Type:        recurring.Kind(req.Type),
			Amount:      req.Amount,
			Category:    req.Category,
			Account:     recurring.Account(req.Account),
			Date:        date,
			Description: req.Description,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": tx.ID})
	case "transfer":
		if !validAccount(req.ToAccount) || req.ToAccount == req.Account {
			c.JSON(http.StatusBadRequest, gin.H{"error": "transfer requires a distinct to_account"})
			return
		}
		tx, err := ledger.AppendTransfer(c.Request.Context(), user.ID, req.Account, req.ToAccount, req.Amount, date, req.Description)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": tx.ID})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be income, expense or transfer"})
	}
}

func validAccount(a string) bool {
	switch recurring.Account(a) {
	case recurring.AccountCash, recurring.AccountBank, recurring.AccountSavings:
		return true
	}
	return false
}

// createRecurringHandler creates a rule and immediately runs an evaluation
// pass so a rule whose start date has already been reached fires its first
// occurrence right away.
func createRecurringHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Kind        string          `json:"type" binding:"required"`
		Amount      decimal.Decimal `json:"amount" binding:"required"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
		Account     string          `json:"account" binding:"required"`
		Frequency   string          `json:"frequency" binding:"required"`
		StartDate   string          `json:"start_date" binding:"required"`
		EndDate     string          `json:"end_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	var endDate *time.Time
	if req.EndDate != "" {
		t, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		endDate = &t
	}
	rule := recurring.Rule{
		ID:          uuid.NewString(),
		OwnerID:     user.ID,
		Kind:        recurring.Kind(req.Kind),
		Amount:      req.Amount,
		Category:    req.Category,
		Description: req.Description,
		Account:     recurring.Account(req.Account),
		Frequency:   recurring.Frequency(req.Frequency),
		StartDate:   recurring.DateOnly(startDate),
		EndDate:     endDate,
		IsActive:    true,
	}
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ruleStore.Create(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	materialized, err := sched.RunOnce(c.Request.Context(), user.ID)
	if err != nil {
		// The rule exists; the next background tick will pick it up.
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("evaluation after rule creation failed")
	}
	if materialized == nil {
		materialized = []recurring.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule, "materialized": materialized})
}

func listRecurringHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var items []models.RecurringRule
	if err := db.Where("user_id = ?", user.ID).Order("created_at desc").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

// updateRecurringHandler edits the descriptive fields of a rule and toggles
// it active or inactive. Amount, dates and frequency are fixed at creation.
func updateRecurringHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	rule, ok := ownedRule(c, user.ID)
	if !ok {
		return
	}
	var req struct {
		Category    *string `json:"category"`
		Description *string `json:"description"`
		IsActive    *bool   `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Category != nil {
		rule.Category = *req.Category
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ruleStore.Update(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule updated"})
}

func deleteRecurringHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	rule, ok := ownedRule(c, user.ID)
	if !ok {
		return
	}
	if err := ruleStore.Delete(c.Request.Context(), rule.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule deleted"})
}

// evaluateRecurringHandler forces an immediate evaluation pass for the caller
// and reports the transactions it materialized.
func evaluateRecurringHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	materialized, err := sched.RunOnce(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}
	if materialized == nil {
		materialized = []recurring.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"materialized": materialized})
}

// ownedRule loads the rule in :id and verifies it belongs to ownerID. A rule
// that exists but belongs to someone else is reported as not found.
func ownedRule(c *gin.Context, ownerID uint) (recurring.Rule, bool) {
	id := c.Param("id")
	rule, err := ruleStore.Rule(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, recurring.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		}
		return recurring.Rule{}, false
	}
	if rule.OwnerID != ownerID {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return recurring.Rule{}, false
	}
	return rule, true
}
