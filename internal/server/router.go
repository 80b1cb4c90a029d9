package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/parishops/backend/internal/auth"
	"github.com/parishops/backend/internal/consent"
	"github.com/parishops/backend/internal/legal"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "parishops_user_id"
	languageContextKey = "parishops_user_language"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentities       = errors.New("identity resolver dependency required")
	errMissingConsentService   = errors.New("consent service dependency required")
)

// SessionAuthenticator validates the session cookie minted by the identity
// provider.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// IdentityResolver maps session claims to the canonical user id consent rows
// are keyed by, and exposes the user's stored language preference.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
	PreferredLanguage(userID string) string
}

// Dependencies wires the handler graph.
type Dependencies struct {
	SessionValidator SessionAuthenticator
	Identities       IdentityResolver
	ConsentService   *consent.Service
	DefaultLanguage  string
	Logger           *zap.Logger
}

// NewHTTPHandler builds the Gin handler exposing the consent engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
	}
	if deps.ConsentService == nil {
		return nil, errMissingConsentService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:        deps.SessionValidator,
		identities:      deps.Identities,
		consentService:  deps.ConsentService,
		defaultLanguage: deps.DefaultLanguage,
		logger:          logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/consents/status", handler.handleConsentStatus)
	protected.POST("/consents/reconcile", handler.handleConsentReconcile)
	protected.POST("/consents/record", handler.handleConsentRecord)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions        SessionAuthenticator
	identities      IdentityResolver
	consentService  *consent.Service
	defaultLanguage string
	logger          *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.identities.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(userIDContextKey, userID)
	c.Set(languageContextKey, strings.TrimSpace(claims.UserLanguage))
	c.Next()
}

type statusResponsePayload struct {
	Statuses []statusPayload `json:"statuses"`
}

type statusPayload struct {
	DocumentType       string `json:"document_type"`
	HasConsent         bool   `json:"has_consent"`
	ConsentedVersion   *int64 `json:"consented_version"`
	CurrentVersion     int64  `json:"current_version"`
	ConsentedAtSeconds *int64 `json:"consented_at_s"`
}

func (h *httpHandler) handleConsentStatus(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	types, ok := h.parseTypesParam(c, c.Query("types"))
	if !ok {
		return
	}

	statuses, err := h.consentService.GetConsentStatus(c.Request.Context(), userID, types, h.effectiveLanguage(c, c.Query("language")))
	if err != nil {
		h.logger.Error("consent status lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}

	response := statusResponsePayload{Statuses: make([]statusPayload, 0, len(statuses))}
	for _, status := range statuses {
		response.Statuses = append(response.Statuses, statusPayload{
			DocumentType:       status.DocumentType.String(),
			HasConsent:         status.HasConsent,
			ConsentedVersion:   status.ConsentedVersion,
			CurrentVersion:     status.CurrentVersion,
			ConsentedAtSeconds: status.ConsentedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, response)
}

type reconcileRequestPayload struct {
	DocumentTypes []string `json:"document_types"`
	Language      string   `json:"language"`
}

type pendingPayload struct {
	DocumentType    string `json:"document_type"`
	CurrentVersion  int64  `json:"current_version"`
	AcceptedVersion *int64 `json:"accepted_version"`
}

type reconcileResponsePayload struct {
	Pending []pendingPayload `json:"pending"`
}

func (h *httpHandler) handleConsentReconcile(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request reconcileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.DocumentTypes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	types, ok := h.parseTypes(c, request.DocumentTypes)
	if !ok {
		return
	}

	pending, err := h.consentService.Reconcile(
		c.Request.Context(),
		userID,
		types,
		h.effectiveLanguage(c, request.Language),
		consent.Provenance{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Source:    consent.SourceReconsentFlow,
		},
	)
	if err != nil {
		h.logger.Error("consent reconciliation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile_failed"})
		return
	}

	response := reconcileResponsePayload{Pending: make([]pendingPayload, 0, len(pending))}
	for _, item := range pending {
		response.Pending = append(response.Pending, pendingPayload{
			DocumentType:    item.DocumentType.String(),
			CurrentVersion:  item.CurrentVersion,
			AcceptedVersion: item.AcceptedVersion,
		})
	}
	c.JSON(http.StatusOK, response)
}

type recordRequestPayload struct {
	DocumentTypes []string `json:"document_types"`
	Language      string   `json:"language"`
	Source        string   `json:"source"`
}

func (h *httpHandler) handleConsentRecord(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request recordRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.DocumentTypes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	source := strings.ToLower(strings.TrimSpace(request.Source))
	if source != consent.SourceSignup && source != consent.SourceReconsentFlow {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_source"})
		return
	}

	types, ok := h.parseTypes(c, request.DocumentTypes)
	if !ok {
		return
	}

	err := h.consentService.RecordConsent(
		c.Request.Context(),
		userID,
		types,
		h.effectiveLanguage(c, request.Language),
		consent.Provenance{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Source:    source,
		},
	)
	if err != nil {
		if errors.Is(err, consent.ErrNoCurrentDocument) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_current_document"})
			return
		}
		h.logger.Error("consent recording failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

func (h *httpHandler) requestUserID(c *gin.Context) (consent.UserID, bool) {
	raw := c.GetString(userIDContextKey)
	userID, err := consent.NewUserID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// effectiveLanguage prefers the explicit request language, then the session
// claim, then the user's stored preference, then the deployment default.
func (h *httpHandler) effectiveLanguage(c *gin.Context, requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	if fromSession := c.GetString(languageContextKey); fromSession != "" {
		return fromSession
	}
	if h.identities != nil {
		if stored := h.identities.PreferredLanguage(c.GetString(userIDContextKey)); stored != "" {
			return stored
		}
	}
	return h.defaultLanguage
}

func (h *httpHandler) parseTypesParam(c *gin.Context, raw string) ([]legal.DocumentType, bool) {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, false
	}
	return h.parseTypes(c, values)
}

func (h *httpHandler) parseTypes(c *gin.Context, values []string) ([]legal.DocumentType, bool) {
	types := make([]legal.DocumentType, 0, len(values))
	for _, value := range values {
		documentType, err := legal.ParseDocumentType(value)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_type"})
			return nil, false
		}
		types = append(types, documentType)
	}
	return types, true
}
