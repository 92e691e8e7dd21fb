package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/internal/auth"
	"github.com/MarkoPoloResearchLab/pointswallet/internal/scheduler"
	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	actorContextKey    = "wallet_actor"
	claimsContextKey   = "auth_claims"
	bearerPrefix       = "bearer "
	authorizationField = "Authorization"
)

// WalletService is the wallet API served over HTTP.
type WalletService interface {
	CreateWallet(ctx context.Context, actor wallet.Actor, customerID wallet.CustomerID, businessUnitID wallet.BusinessUnitID, tenantID wallet.TenantID) (wallet.Wallet, error)
	GetWallet(ctx context.Context, actor wallet.Actor, walletID wallet.WalletID) (wallet.Wallet, error)
	ListWallets(ctx context.Context, actor wallet.Actor, filter wallet.WalletFilter) ([]wallet.Wallet, error)
	RecordMovement(ctx context.Context, actor wallet.Actor, request wallet.MovementRequest) (wallet.Entry, error)
	ListMovements(ctx context.Context, actor wallet.Actor, walletID wallet.WalletID, before time.Time, limit int) ([]wallet.Entry, error)
	QuoteBurn(ctx context.Context, actor wallet.Actor, request wallet.QuoteRequest) (wallet.Quote, error)
	ConfirmBurn(ctx context.Context, actor wallet.Actor, request wallet.ConfirmRequest) (wallet.BurnResult, error)
	GetSettings(ctx context.Context, actor wallet.Actor, businessUnitID wallet.BusinessUnitID) (wallet.Settings, error)
	UpsertSettings(ctx context.Context, actor wallet.Actor, settings wallet.Settings) (wallet.Settings, error)
}

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Authenticate(token string) (*auth.Claims, error)
}

// MaintenanceRunner triggers the maintenance jobs on demand.
type MaintenanceRunner interface {
	RunAll(ctx context.Context, asOf time.Time) []scheduler.Result
}

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	Service       WalletService
	Authenticator Authenticator
	Access        wallet.AccessChecker
	Maintenance   MaintenanceRunner
	Sessions      *sessionvalidator.Validator
	Metrics       http.Handler
	Logger        *zap.Logger
	Now           func() time.Time
}

type httpHandler struct {
	cfg         Config
	service     WalletService
	access      wallet.AccessChecker
	maintenance MaintenanceRunner
	logger      *zap.Logger
	nowFn       func() time.Time
}

// NewSessionValidator builds the cookie session validator for operator routes.
func NewSessionValidator(cfg Config) (*sessionvalidator.Validator, error) {
	if !cfg.SessionsEnabled() {
		return nil, nil
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return validator, nil
}

// NewRouter wires the public and operator routes.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("httpapi: wallet service is nil")
	}
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("httpapi: authenticator is nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	handler := &httpHandler{
		cfg:         cfg,
		service:     deps.Service,
		access:      deps.Access,
		maintenance: deps.Maintenance,
		logger:      logger,
		nowFn:       now,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", authorizationField},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := router.Group("/api/v1")
	api.Use(bearerActor(deps.Authenticator))
	api.POST("/wallets", handler.handleCreateWallet)
	handler.registerReadRoutes(api)
	api.POST("/wallets/:wallet_id/movements", handler.handleRecordMovement)
	api.POST("/burns/quote", handler.handleQuoteBurn)
	api.POST("/burns/:entry_id/confirm", handler.handleConfirmBurn)
	api.PUT("/settings/:business_unit_id", handler.handleUpsertSettings)

	if deps.Sessions != nil {
		admin := router.Group("/admin/v1")
		admin.Use(deps.Sessions.GinMiddleware(claimsContextKey))
		admin.Use(sessionActor)
		handler.registerReadRoutes(admin)
		admin.PUT("/settings/:business_unit_id", handler.handleUpsertSettings)
		admin.POST("/maintenance/run", handler.handleRunMaintenance)
	}
	return router, nil
}

func (handler *httpHandler) registerReadRoutes(group *gin.RouterGroup) {
	group.GET("/wallets", handler.handleListWallets)
	group.GET("/wallets/:wallet_id", handler.handleGetWallet)
	group.GET("/wallets/:wallet_id/movements", handler.handleListMovements)
	group.GET("/settings/:business_unit_id", handler.handleGetSettings)
}

// Run serves handler on cfg.ListenAddr until ctx is cancelled.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func bearerActor(authenticator Authenticator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader(authorizationField)
		if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthenticated, "missing bearer token"))
			return
		}
		token := strings.TrimSpace(header[len(bearerPrefix):])
		claims, err := authenticator.Authenticate(token)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthenticated, "invalid bearer token"))
			return
		}
		ctx.Set(actorContextKey, wallet.Actor{Subject: claims.Subject, Token: token})
		ctx.Next()
	}
}

func sessionActor(ctx *gin.Context) {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthenticated, "missing session"))
		return
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	if claims == nil || claims.GetUserID() == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthenticated, "missing session"))
		return
	}
	ctx.Set(actorContextKey, wallet.Actor{Subject: claims.GetUserID()})
	ctx.Next()
}

func actorFrom(ctx *gin.Context) wallet.Actor {
	actorValue, ok := ctx.Get(actorContextKey)
	if !ok {
		return wallet.Actor{}
	}
	actor, _ := actorValue.(wallet.Actor)
	return actor
}
