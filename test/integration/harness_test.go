package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/health"
	"github.com/transferwave/identity-core/internal/http/handler"
	"github.com/transferwave/identity-core/internal/http/router"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/security"
	"github.com/transferwave/identity-core/internal/service"
)

// envelope mirrors the response wrapper every endpoint writes.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// recordingSender keeps delivered challenge codes in memory so tests can
// answer them.
type recordingSender struct {
	mu       sync.Mutex
	lastCode string
}

func (s *recordingSender) SendSMS(_ context.Context, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	return nil
}

func (s *recordingSender) SendEmail(_ context.Context, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	return nil
}

type identityServer struct {
	URL       string
	Client    *http.Client
	DB        *gorm.DB
	Redis     *miniredis.Miniredis
	JWT       *security.JWTManager
	Sessions  *service.SessionManager
	Resolver  *service.PermissionResolver
	Mfa       *service.MfaCoordinator
	Sender    *recordingSender
	Readiness *health.ProbeRunner
	PermRepo  repository.PermissionRepository
}

const integrationVaultKey = "9c1f2e3d4c5b6a798897a6b5c4d3e2f10192837465564738291000aabbccddee"

// newIdentityServer assembles the full service against in-memory sqlite and
// miniredis, the same wiring serve builds for production dependencies.
func newIdentityServer(t *testing.T) *identityServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Session{},
		&domain.RefreshToken{},
		&domain.MfaMethod{},
		&domain.MfaSession{},
		&domain.BackupCode{},
		&domain.WebAuthnCredential{},
		&domain.Role{},
		&domain.Permission{},
		&domain.UserRole{},
		&domain.OrganizationCloudCredential{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mini := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	sessionRepo := repository.NewSessionRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	permRepo := repository.NewPermissionRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	methodRepo := repository.NewMfaMethodRepository(db)
	mfaSessionRepo := repository.NewMfaSessionRepository(db)
	backupRepo := repository.NewBackupCodeRepository(db)
	webauthnRepo := repository.NewWebAuthnCredentialRepository(db)

	jwtMgr := security.NewJWTManager("transferwave-identity", "transferwave-api", "integration-secret")
	sessions := service.NewSessionManager(sessionRepo, jwtMgr, 15*time.Minute)
	resolver := service.NewPermissionResolver(roleRepo, permRepo,
		service.NewRedisPermissionCacheStore(redisClient, "perm_cache"), 5*time.Minute)

	keys, err := security.NewStaticKeyProviderHex(integrationVaultKey)
	if err != nil {
		t.Fatalf("key provider: %v", err)
	}
	credentials := service.NewCredentialService(credRepo, security.NewVault(keys))

	sender := &recordingSender{}
	totp := security.NewTOTPManager(security.TOTPConfig{Issuer: "transferwave", Skew: 1})
	mfa := service.NewMfaCoordinator(methodRepo, mfaSessionRepo, backupRepo, webauthnRepo,
		sessions, totp, sender, nil, nil)

	readiness := health.NewProbeRunner(15*time.Second, 2*time.Second,
		health.DatabaseProbe(db), health.RedisProbe(redisClient))
	readiness.RunOnce(context.Background())

	h := router.NewRouter(router.Dependencies{
		JWTManager:  jwtMgr,
		Sessions:    sessions,
		Permissions: resolver,
		MfaHandler:  handler.NewMfaHandler(mfa, 5*time.Minute),
		Credentials: handler.NewCredentialHandler(credentials),
		Readiness:   readiness,
	})
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	return &identityServer{
		URL:       server.URL,
		Client:    server.Client(),
		DB:        db,
		Redis:     mini,
		JWT:       jwtMgr,
		Sessions:  sessions,
		Resolver:  resolver,
		Mfa:       mfa,
		Sender:    sender,
		Readiness: readiness,
		PermRepo:  permRepo,
	}
}

// login creates a device session for the user and mints the access token a
// gateway would attach to subsequent requests.
func (s *identityServer) login(t *testing.T, userID, deviceID string) (sessionID, token string) {
	t.Helper()
	session, err := s.Sessions.Create(userID, time.Hour, service.DeviceInfo{
		DeviceID:  deviceID,
		UserAgent: "integration-test",
		IP:        "198.51.100.7",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	token, err = s.Sessions.MintAccessToken(session.ID, nil, nil)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return session.ID, token
}

// grantPermission seeds a role carrying one permission and grants it to the
// user. A nil organizationID creates a system-wide grant.
func (s *identityServer) grantPermission(t *testing.T, userID, permissionName string, organizationID *string) (roleID string) {
	t.Helper()
	perm := &domain.Permission{
		ID:           uuid.NewString(),
		Name:         permissionName,
		ResourceType: strings.SplitN(permissionName, ".", 2)[0],
		Action:       "manage",
		SystemWide:   organizationID == nil,
	}
	if err := s.PermRepo.Create(perm); err != nil && !errors.Is(err, repository.ErrDuplicatePermission) {
		t.Fatalf("create permission: %v", err)
	}
	role := &domain.Role{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Name:           "role-" + uuid.NewString()[:8],
	}
	if err := s.Resolver.CreateRole(context.Background(), role, []string{perm.ID}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := s.Resolver.GrantRole(context.Background(), userID, role.ID, organizationID); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	return role.ID
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope from %s %s: %v", method, url, err)
	}
	return resp, env
}
