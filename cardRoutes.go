package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
	"bitbucket.org/mmdatafocus/kanban_backend/models"
	"bitbucket.org/mmdatafocus/kanban_backend/utils"
	"bitbucket.org/mmdatafocus/kanban_backend/workflow"
	"github.com/gin-gonic/gin"
)

type scanRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

type transitionRequest struct {
	ToStage         string  `json:"to_stage" binding:"required"`
	Method          string  `json:"method" binding:"required"`
	LinkedOrderId   *int    `json:"linked_order_id"`
	LinkedOrderType *string `json:"linked_order_type"`
	Metadata        *string `json:"metadata"`
}

type replayRequest struct {
	Items []workflow.ReplayScanItem `json:"items" binding:"required,dive"`
}

func registerCardRoutes(r *gin.Engine) {
	r.POST("/cards/:id/scan", scanCardHandler())
	r.POST("/cards/:id/transition", transitionCardHandler())
	r.POST("/cards/:id/deactivate", deactivateCardHandler())
	r.POST("/cards/replay", replayScansHandler())
	r.GET("/cards/:id", getCardHandler())
	r.GET("/cards/:id/transitions", listCardTransitionsHandler())
	r.GET("/loops/:id", getLoopHandler())
}

// statusForError maps business error kinds onto HTTP statuses. Anything
// without a recognized kind is an infrastructure failure and surfaces as 500.
func statusForError(err error) int {
	code, ok := models.DomainCode(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case models.ErrCodeCardNotFound:
		return http.StatusNotFound
	case models.ErrCodeTenantMismatch, models.ErrCodeRoleNotAllowed:
		return http.StatusForbidden
	case models.ErrCodeScanConflict, models.ErrCodeScanDuplicate, models.ErrCodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	var de *models.DomainError
	if errors.As(err, &de) {
		c.AbortWithStatusJSON(statusForError(err), gin.H{
			"error":   de.Message,
			"code":    de.Code,
			"details": de.Details,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func tenantFromRequest(c *gin.Context) (string, bool) {
	tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context())
	if !ok || tenantId == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant context is required"})
		return "", false
	}
	return tenantId, true
}

func cardIdFromPath(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return 0, false
	}
	return id, true
}

func scanCardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := tenantFromRequest(c)
		if !ok {
			return
		}
		cardId, ok := cardIdFromPath(c)
		if !ok {
			return
		}
		var req scanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		var userId *int
		if id, ok := utils.GetUserIdFromContext(ctx); ok {
			userId = &id
		}

		result, err := buildOrchestrator().TriggerCardByScan(ctx, cardId, tenantId, req.IdempotencyKey, userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func deactivateCardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := tenantFromRequest(c)
		if !ok {
			return
		}
		cardId, ok := cardIdFromPath(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		var userId *int
		if id, ok := utils.GetUserIdFromContext(ctx); ok {
			userId = &id
		}

		card, err := buildOrchestrator().DeactivateCard(ctx, cardId, tenantId, userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, card)
	}
}

func transitionCardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := tenantFromRequest(c)
		if !ok {
			return
		}
		cardId, ok := cardIdFromPath(c)
		if !ok {
			return
		}
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		toStage, err := models.ParseCardStage(req.ToStage)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		method, err := models.ParseTransitionMethod(req.Method)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		input := workflow.TransitionInput{
			CardId:          cardId,
			TenantId:        tenantId,
			ToStage:         toStage,
			Method:          method,
			LinkedOrderId:   req.LinkedOrderId,
			LinkedOrderType: req.LinkedOrderType,
			Metadata:        req.Metadata,
		}
		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			input.UserId = &userId
		}
		if role, ok := utils.GetUserRoleFromContext(ctx); ok && role != "" {
			input.UserRole = &role
		}
		if ip := c.ClientIP(); ip != "" {
			input.IpAddress = &ip
		}
		if ua := c.Request.UserAgent(); ua != "" {
			input.UserAgent = &ua
		}

		result, err := buildOrchestrator().TransitionCard(ctx, input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func replayScansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := tenantFromRequest(c)
		if !ok {
			return
		}
		var req replayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		var userId *int
		if id, ok := utils.GetUserIdFromContext(ctx); ok {
			userId = &id
		}

		results, err := buildOrchestrator().ReplayScans(ctx, req.Items, tenantId, userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func getCardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := tenantFromRequest(c)
		if !ok {
			return
		}
		cardId, ok := cardIdFromPath(c)
		if !ok {
			return
		}

		card, err := models.GetCardWithLoop(c.Request.Context(), config.GetDB(), cardId, tenantId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, card)
	}
}

func listCardTransitionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := tenantFromRequest(c)
		if !ok {
			return
		}
		cardId, ok := cardIdFromPath(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		transitions, err := models.ListStageTransitions(c.Request.Context(), config.GetDB(), tenantId, cardId, limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transitions": transitions})
	}
}

func getLoopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := tenantFromRequest(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid loop id"})
			return
		}

		loop, err := models.GetLoop(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "loop not found"})
				return
			}
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, loop)
	}
}
