package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/parishops/backend/internal/auth"
	"github.com/parishops/backend/internal/consent"
	"github.com/parishops/backend/internal/legal"
	"github.com/parishops/backend/internal/server"
	"github.com/parishops/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	sessionUserID        = "google:user-abc"
	canonicalUserID      = "user-abc"
	jsonContentType      = "application/json"
)

func TestConsentFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&legal.Document{}, &consent.Record{}, &users.Identity{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	documents := []legal.Document{
		{
			ID:             "tos-en-2",
			DocumentType:   legal.DocumentTypeTermsOfService,
			Language:       "en",
			Version:        2,
			IsCurrent:      true,
			Status:         legal.StatusPublished,
			AcceptanceType: legal.AcceptanceActive,
			Title:          "Terms of Service",
		},
		{
			ID:             "privacy-en-1",
			DocumentType:   legal.DocumentTypePrivacyPolicy,
			Language:       "en",
			Version:        1,
			IsCurrent:      true,
			Status:         legal.StatusPublished,
			AcceptanceType: legal.AcceptanceSilent,
			Title:          "Privacy Policy",
		},
	}
	for index := range documents {
		if err := db.Create(&documents[index]).Error; err != nil {
			testContext.Fatalf("failed to seed document: %v", err)
		}
	}

	registry, err := legal.NewRegistry(legal.RegistryConfig{
		Database:          db,
		FallbackLanguages: []string{"en", "pl"},
	})
	if err != nil {
		testContext.Fatalf("failed to construct registry: %v", err)
	}

	consentService, err := consent.NewService(consent.ServiceConfig{
		Database:   db,
		Registry:   registry,
		IDProvider: consent.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build consent service: %v", err)
	}

	identityService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build identity service: %v", err)
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Identities:       identityService,
		ConsentService:   consentService,
		DefaultLanguage:  "en",
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	sessionToken := mustMintSessionToken(testContext, sessionSigningSecret, sessionUserID, time.Now())
	sessionCookie := &http.Cookie{
		Name:  sessionCookieName,
		Value: sessionToken,
	}

	// No cookie at all is rejected before any consent logic runs.
	anonymousResp, err := http.Get(testServer.URL + "/consents/status?types=terms_of_service")
	if err != nil {
		testContext.Fatalf("anonymous request failed: %v", err)
	}
	anonymousResp.Body.Close()
	if anonymousResp.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected unauthorized for anonymous request, got %d", anonymousResp.StatusCode)
	}

	reconcileRequest := map[string]any{
		"document_types": []string{"terms_of_service", "privacy_policy"},
		"language":       "en",
	}
	reconcileBody, _ := json.Marshal(reconcileRequest)
	reconcileReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/consents/reconcile", bytes.NewReader(reconcileBody))
	reconcileReq.AddCookie(sessionCookie)
	reconcileReq.Header.Set("Content-Type", jsonContentType)

	reconcileResp, err := http.DefaultClient.Do(reconcileReq)
	if err != nil {
		testContext.Fatalf("reconcile request failed: %v", err)
	}
	defer reconcileResp.Body.Close()
	if reconcileResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected reconcile status: %d", reconcileResp.StatusCode)
	}

	var reconcilePayload struct {
		Pending []struct {
			DocumentType    string `json:"document_type"`
			CurrentVersion  int64  `json:"current_version"`
			AcceptedVersion *int64 `json:"accepted_version"`
		} `json:"pending"`
	}
	if err := json.NewDecoder(reconcileResp.Body).Decode(&reconcilePayload); err != nil {
		testContext.Fatalf("failed to decode reconcile response: %v", err)
	}
	if len(reconcilePayload.Pending) != 1 {
		testContext.Fatalf("expected one pending consent, got %#v", reconcilePayload.Pending)
	}
	if reconcilePayload.Pending[0].DocumentType != "terms_of_service" || reconcilePayload.Pending[0].CurrentVersion != 2 {
		testContext.Fatalf("unexpected pending consent: %#v", reconcilePayload.Pending[0])
	}
	if reconcilePayload.Pending[0].AcceptedVersion != nil {
		testContext.Fatalf("expected no prior accepted version, got %v", *reconcilePayload.Pending[0].AcceptedVersion)
	}

	// The silent privacy policy gap was closed during reconciliation, keyed by
	// the canonical user id rather than the provider-prefixed login.
	var silentRecords []consent.Record
	if err := db.Where("user_id = ? AND consent_type = ?", canonicalUserID, legal.DocumentTypePrivacyPolicy).Find(&silentRecords).Error; err != nil {
		testContext.Fatalf("failed to load silent records: %v", err)
	}
	if len(silentRecords) != 1 {
		testContext.Fatalf("expected one silent grant, got %d", len(silentRecords))
	}

	recordRequest := map[string]any{
		"document_types": []string{"terms_of_service"},
		"language":       "en",
		"source":         "reconsent_flow",
	}
	recordBody, _ := json.Marshal(recordRequest)
	recordReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/consents/record", bytes.NewReader(recordBody))
	recordReq.AddCookie(sessionCookie)
	recordReq.Header.Set("Content-Type", jsonContentType)

	recordResp, err := http.DefaultClient.Do(recordReq)
	if err != nil {
		testContext.Fatalf("record request failed: %v", err)
	}
	defer recordResp.Body.Close()
	if recordResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected record status: %d", recordResp.StatusCode)
	}

	statusReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/consents/status?types=terms_of_service,privacy_policy&language=en", nil)
	statusReq.AddCookie(sessionCookie)
	statusResp, err := http.DefaultClient.Do(statusReq)
	if err != nil {
		testContext.Fatalf("status request failed: %v", err)
	}
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected status code: %d", statusResp.StatusCode)
	}

	var statusPayload struct {
		Statuses []struct {
			DocumentType     string `json:"document_type"`
			HasConsent       bool   `json:"has_consent"`
			ConsentedVersion *int64 `json:"consented_version"`
			CurrentVersion   int64  `json:"current_version"`
		} `json:"statuses"`
	}
	if err := json.NewDecoder(statusResp.Body).Decode(&statusPayload); err != nil {
		testContext.Fatalf("failed to decode status response: %v", err)
	}
	if len(statusPayload.Statuses) != 2 {
		testContext.Fatalf("expected two statuses, got %#v", statusPayload.Statuses)
	}
	for _, status := range statusPayload.Statuses {
		if !status.HasConsent {
			testContext.Fatalf("expected consent for %s, got %#v", status.DocumentType, status)
		}
		if status.ConsentedVersion == nil || *status.ConsentedVersion != status.CurrentVersion {
			testContext.Fatalf("expected consented version to match current for %s, got %#v", status.DocumentType, status)
		}
	}
}

func mustMintSessionToken(testContext *testing.T, signingSecret, userID string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:       userID,
		UserLanguage: "en",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
