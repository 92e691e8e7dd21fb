package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (handler *httpHandler) handleCreateWallet(ctx *gin.Context) {
	var request createWalletRequest
	if !bindJSON(ctx, &request) {
		return
	}
	customerID, err := wallet.NewCustomerID(request.CustomerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	businessUnitID, err := wallet.NewBusinessUnitID(request.BusinessUnitID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	tenantID, err := wallet.NewTenantID(request.TenantID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	created, err := handler.service.CreateWallet(requestCtx, actorFrom(ctx), customerID, businessUnitID, tenantID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(created)})
}

func (handler *httpHandler) handleGetWallet(ctx *gin.Context) {
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, err := handler.service.GetWallet(requestCtx, actorFrom(ctx), walletID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(record)})
}

func (handler *httpHandler) handleListWallets(ctx *gin.Context) {
	var filter wallet.WalletFilter
	if raw := ctx.Query("business_unit_id"); raw != "" {
		businessUnitID, err := wallet.NewBusinessUnitID(raw)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.BusinessUnitID = businessUnitID
	}
	if raw := ctx.Query("tenant_id"); raw != "" {
		tenantID, err := wallet.NewTenantID(raw)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.TenantID = tenantID
	}
	limit, ok := parseLimit(ctx)
	if !ok {
		return
	}
	filter.Limit = limit
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	records, err := handler.service.ListWallets(requestCtx, actorFrom(ctx), filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]walletPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, newWalletPayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"wallets": payload})
}

func (handler *httpHandler) handleRecordMovement(ctx *gin.Context) {
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request movementRequest
	if !bindJSON(ctx, &request) {
		return
	}
	businessUnitID, err := wallet.NewBusinessUnitID(request.BusinessUnitID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	entryType, err := wallet.ParseEntryType(request.Type)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	status, err := wallet.ParseEntryStatus(request.Status)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := wallet.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.service.RecordMovement(requestCtx, actorFrom(ctx), wallet.MovementRequest{
		WalletID:       walletID,
		BusinessUnitID: businessUnitID,
		Type:           entryType,
		Status:         status,
		Amount:         request.Amount,
		CouponCode:     request.CouponCode,
		ExpiryOverride: request.ExpiryDate,
		SourceType:     request.SourceType,
		SourceID:       request.SourceID,
		Description:    request.Description,
		Metadata:       metadata,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"entry": newEntryPayload(entry)})
}

func (handler *httpHandler) handleListMovements(ctx *gin.Context) {
	walletID, err := wallet.NewWalletID(ctx.Param("wallet_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var before time.Time
	if raw := ctx.Query("before"); raw != "" {
		before, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidArgument, "before must be RFC3339"))
			return
		}
	}
	limit, ok := parseLimit(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.ListMovements(requestCtx, actorFrom(ctx), walletID, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, newEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (handler *httpHandler) handleQuoteBurn(ctx *gin.Context) {
	var request quoteRequest
	if !bindJSON(ctx, &request) {
		return
	}
	tenantID, err := wallet.NewTenantID(request.TenantID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	businessUnitID, err := wallet.NewBusinessUnitID(request.BusinessUnitID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var customerID wallet.CustomerID
	if request.CustomerID != "" {
		customerID, err = wallet.NewCustomerID(request.CustomerID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	quote, err := handler.service.QuoteBurn(requestCtx, actorFrom(ctx), wallet.QuoteRequest{
		TenantID:       tenantID,
		BusinessUnitID: businessUnitID,
		CustomerID:     customerID,
		Phone:          request.Phone,
		SpendAmount:    request.SpendAmount,
		Language:       request.Language,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"quote": quotePayload{
		EntryID:            quote.EntryID.String(),
		WalletID:           quote.WalletID.String(),
		RuleID:             quote.RuleID,
		RuleName:           quote.RuleName,
		SpendAmount:        quote.SpendAmount,
		Points:             quote.Points,
		Discount:           quote.Discount,
		MaxAllowedDiscount: quote.MaxAllowedDiscount,
	}})
}

func (handler *httpHandler) handleConfirmBurn(ctx *gin.Context) {
	entryID, err := wallet.NewEntryID(ctx.Param("entry_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request confirmRequest
	if !bindJSON(ctx, &request) {
		return
	}
	businessUnitID, err := wallet.NewBusinessUnitID(request.BusinessUnitID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.ConfirmBurn(requestCtx, actorFrom(ctx), wallet.ConfirmRequest{
		BusinessUnitID: businessUnitID,
		EntryID:        entryID,
		BurnPoints:     request.BurnPoints,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"burn": burnPayload{
		EntryID:          result.EntryID.String(),
		WalletID:         result.WalletID.String(),
		SpendAmount:      result.SpendAmount,
		FinalAmount:      result.FinalAmount,
		PointsBurned:     result.PointsBurned,
		Discount:         result.Discount,
		AvailableBalance: result.AvailableBalance,
	}})
}

func (handler *httpHandler) handleGetSettings(ctx *gin.Context) {
	businessUnitID, err := wallet.NewBusinessUnitID(ctx.Param("business_unit_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	settings, err := handler.service.GetSettings(requestCtx, actorFrom(ctx), businessUnitID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": newSettingsPayload(settings)})
}

func (handler *httpHandler) handleUpsertSettings(ctx *gin.Context) {
	businessUnitID, err := wallet.NewBusinessUnitID(ctx.Param("business_unit_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request settingsRequest
	if !bindJSON(ctx, &request) {
		return
	}
	pendingMethod, err := wallet.ParsePendingMethod(request.PendingMethod)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	expirationMethod, err := wallet.ParseExpirationMethod(request.ExpirationMethod)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	stored, err := handler.service.UpsertSettings(requestCtx, actorFrom(ctx), wallet.Settings{
		BusinessUnitID:       businessUnitID,
		PendingMethod:        pendingMethod,
		PendingDays:          request.PendingDays,
		ExpirationMethod:     expirationMethod,
		ExpirationValue:      request.ExpirationValue,
		AllowNegativeBalance: request.AllowNegativeBalance,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": newSettingsPayload(stored)})
}

// handleRunMaintenance runs both sweeps now. Only actors with access to every
// business unit may trigger it.
func (handler *httpHandler) handleRunMaintenance(ctx *gin.Context) {
	if handler.maintenance == nil || handler.access == nil {
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeNotFound, "maintenance is not available"))
		return
	}
	var request maintenanceRequest
	if !bindJSON(ctx, &request) {
		return
	}
	allowed, err := handler.access.CheckAccess(ctx.Request.Context(), actorFrom(ctx), wallet.BusinessUnitID{})
	if err != nil || !allowed {
		handler.respondError(ctx, wallet.ErrUnauthorized)
		return
	}
	asOf := handler.nowFn().UTC()
	if request.AsOf != nil {
		asOf = request.AsOf.UTC()
	}
	results := handler.maintenance.RunAll(ctx.Request.Context(), asOf)
	payload := make([]sweepPayload, 0, len(results))
	for _, result := range results {
		payload = append(payload, newSweepPayload(result))
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": payload})
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("wallet request failed",
			zap.String("path", ctx.FullPath()),
			zap.String("actor", actorFrom(ctx).Subject),
			zap.Error(err),
		)
		ctx.JSON(status, errorResponse(code, http.StatusText(status)))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

// bindJSON decodes the body into target. An empty body leaves target zeroed.
func bindJSON(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return false
	}
	return true
}

func parseLimit(ctx *gin.Context) (int, bool) {
	raw := ctx.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidArgument, "limit must be between 1 and 500"))
		return 0, false
	}
	return limit, true
}
