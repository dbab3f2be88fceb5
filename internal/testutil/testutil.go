package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/scanhub/internal/auth"
	"github.com/hugh/scanhub/internal/database"
	"github.com/hugh/scanhub/internal/database/models"
	"github.com/hugh/scanhub/internal/scanner"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing. It is closed
// when the test ends.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Every pooled connection would otherwise get its own empty database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// CreateTestUser creates an active user with password "testpassword123".
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	hash, err := auth.HashPassword("testpassword123")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Base: models.Base{
			ID: uuid.New(),
		},
		Email:        "test-" + uuid.New().String()[:8] + "@example.com",
		PasswordHash: hash,
		Name:         "Test User",
		IsActive:     true,
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return user
}

// CreateTestJWTService creates a JWT service for testing
func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

// GenerateTestToken generates a valid JWT token for the given user
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()

	token, err := jwtService.GenerateToken(user.ID, user.Email)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	return token
}

// CreateTestScan inserts a scan row directly, bypassing the lifecycle.
func CreateTestScan(t *testing.T, db *gorm.DB, ownerID uuid.UUID, scanType models.ScanType, status models.ScanStatus) *models.Scan {
	t.Helper()

	now := time.Now().UTC()
	scan := &models.Scan{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Target:    "example.com",
		ScanType:  scanType,
		Status:    status,
		Options:   "{}",
		CreatedAt: now,
	}
	switch status {
	case models.ScanStatusRunning:
		scan.StartedAt = &now
	case models.ScanStatusCompleted:
		scan.StartedAt, scan.CompletedAt = &now, &now
		scan.Results = []byte(`{"target":"example.com"}`)
	case models.ScanStatusFailed:
		scan.StartedAt, scan.CompletedAt = &now, &now
		scan.ErrorKind = string(scanner.KindTimeout)
		scan.ErrorMessage = "no response before deadline"
	}

	if err := db.Create(scan).Error; err != nil {
		t.Fatalf("failed to create test scan: %v", err)
	}

	return scan
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// FakeBackend is an in-memory scanner backend. Each operation returns the
// configured result or error and counts its calls.
type FakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	Ports *scanner.PortScanResult
	Vulns *scanner.VulnScanResult
	TLS   *scanner.TLSScanResult
	Err   error

	// Block, when set, is waited on before every call returns.
	Block chan struct{}
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		calls: make(map[string]int),
		Ports: &scanner.PortScanResult{Target: "example.com", Ports: scanner.DefaultPortRange, Status: "completed", OpenPorts: []int{22, 443}},
		Vulns: &scanner.VulnScanResult{Target: "example.com", Vulnerabilities: []scanner.Vulnerability{}, RiskLevel: "low"},
		TLS:   &scanner.TLSScanResult{Target: "example.com", SSLVersion: "TLSv1.3", CertificateValid: true},
	}
}

func (f *FakeBackend) record(op string) error {
	f.mu.Lock()
	f.calls[op]++
	block, err := f.Block, f.Err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

// Calls reports how many times op (ports, vulnerabilities, ssl) was invoked.
func (f *FakeBackend) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// SetErr changes the error returned by subsequent calls.
func (f *FakeBackend) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}

func (f *FakeBackend) ScanPorts(_ context.Context, _, _ string) (*scanner.PortScanResult, error) {
	if err := f.record("ports"); err != nil {
		return nil, err
	}
	return f.Ports, nil
}

func (f *FakeBackend) ScanVulnerabilities(_ context.Context, _ string) (*scanner.VulnScanResult, error) {
	if err := f.record("vulnerabilities"); err != nil {
		return nil, err
	}
	return f.Vulns, nil
}

func (f *FakeBackend) ScanTLS(_ context.Context, _ string) (*scanner.TLSScanResult, error) {
	if err := f.record("ssl"); err != nil {
		return nil, err
	}
	return f.TLS, nil
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB         *gorm.DB
	JWTService *auth.JWTService
	User       *models.User
	Token      string
}

// NewTestContext creates a complete test setup with DB, user, and token
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	user := CreateTestUser(t, db)
	token := GenerateTestToken(t, jwtService, user)

	return &TestSetup{
		DB:         db,
		JWTService: jwtService,
		User:       user,
		Token:      token,
	}
}
