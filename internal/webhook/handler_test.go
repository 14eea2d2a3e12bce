package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"gramflow/internal/audit"
	"gramflow/internal/instagram"
	"gramflow/internal/queue"
	"gramflow/internal/ratelimit"
	"gramflow/internal/subscription"
)

const testAppSecret = "sssh"

func newTestRouter(t *testing.T, limits ratelimit.Limits) (*gin.Engine, *stubAutomations) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	automations := &stubAutomations{}
	resolver := ratelimit.NewTierResolver(subscription.NewMemoryStore())
	admission := ratelimit.NewService(
		ratelimit.NewMemoryLedger(), resolver, queue.NewMemoryQueue(),
		audit.NewService(audit.NewMemoryRepo(), nil),
		nil, nil, limits,
	)
	directory := instagram.NewMemoryDirectory()
	directory.Put(instagram.Account{ID: "acct-1", TenantID: "t1", IsActive: true})

	d := NewDispatcher(admission, directory, automations, nil, nil, 1)
	h := NewHandler(d, "verify-me", testAppSecret, nil)

	r := gin.New()
	r.GET("/webhooks/instagram", h.Verify)
	r.POST("/webhooks/instagram", h.Receive)
	return r, automations
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandler_VerifyHandshake(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.Limits{GlobalPerHour: 10, FreePerHour: 10, ProPerHour: 10})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "42" {
		t.Fatalf("challenge echo = %q", w.Body.String())
	}
}

func TestHandler_VerifyRejectsBadToken(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.Limits{GlobalPerHour: 10, FreePerHour: 10, ProPerHour: 10})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestHandler_ReceiveAcks200(t *testing.T) {
	r, automations := newTestRouter(t, ratelimit.Limits{GlobalPerHour: 10, FreePerHour: 10, ProPerHour: 10})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(commentDelivery))
	req.Header.Set("X-Hub-Signature-256", sign(commentDelivery))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if len(automations.comments) != 1 {
		t.Fatalf("comment not processed")
	}
}

func TestHandler_ReceiveAcks200WhenQueued(t *testing.T) {
	// No budget: the comment is deferred, the provider still gets a 200.
	r, automations := newTestRouter(t, ratelimit.Limits{GlobalPerHour: 10, FreePerHour: 0, ProPerHour: 10})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(commentDelivery))
	req.Header.Set("X-Hub-Signature-256", sign(commentDelivery))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on denial", w.Code)
	}
	if len(automations.comments) != 0 {
		t.Fatalf("denied comment must not run")
	}
}

func TestHandler_ReceiveRejectsBadSignature(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.Limits{GlobalPerHour: 10, FreePerHour: 10, ProPerHour: 10})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(commentDelivery))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestHandler_ReceiveRejectsMissingSignature(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.Limits{GlobalPerHour: 10, FreePerHour: 10, ProPerHour: 10})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(commentDelivery))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestHandler_ReceiveRejectsMalformedBody(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.Limits{GlobalPerHour: 10, FreePerHour: 10, ProPerHour: 10})

	body := `{"object":"page"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
