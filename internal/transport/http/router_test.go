package httptransport

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	authModels "trustkit/internal/authgate/models"
	"trustkit/internal/platform/metrics"
	"trustkit/internal/transport/http/mocks"
	trustModels "trustkit/internal/trust/models"
	vaultModels "trustkit/internal/vault/models"
	dErrors "trustkit/pkg/domain-errors"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/platform/middleware/admin"
	"trustkit/pkg/platform/middleware/request"
	"trustkit/pkg/testutil"
)

const adminToken = "s3cret-admin-token"

type RouterSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	audit  *mocks.MockAuditReader
	vault  *mocks.MockVaultInspector
	trust  *mocks.MockTrustInspector
	gate   *mocks.MockGateInspector
	router http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.audit = mocks.NewMockAuditReader(s.ctrl)
	s.vault = mocks.NewMockVaultInspector(s.ctrl)
	s.trust = mocks.NewMockTrustInspector(s.ctrl)
	s.gate = mocks.NewMockGateInspector(s.ctrl)
	s.router = s.newRouter(RouterConfig{AdminToken: adminToken, RequestsPerSecond: 100, Burst: 100})
}

func (s *RouterSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RouterSuite) newRouter(cfg RouterConfig) http.Handler {
	reg := prometheus.NewRegistry()
	h := NewHandler(s.audit, s.vault, s.trust, s.gate, nil)
	router, err := NewRouter(h, reg, metrics.New(reg), cfg, nil)
	s.Require().NoError(err)
	return router
}

func (s *RouterSuite) get(path string) *http.Request {
	req := testutil.NewRequest(s.T(), http.MethodGet, path)
	req.Header.Set(admin.HeaderAdminToken, adminToken)
	return req
}

func (s *RouterSuite) TestOpenRoutes() {
	s.Run("health needs no token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.NotEmpty(rr.Header().Get(request.HeaderRequestID))
	})

	s.Run("metrics are exported", func() {
		testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Contains(rr.Body.String(), "trustkit_http_request_duration_seconds")
	})

	s.Run("incoming request id is echoed", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/healthz")
		req.Header.Set(request.HeaderRequestID, "req-123")
		rr := testutil.DoRequest(s.router, req)
		s.Equal("req-123", rr.Header().Get(request.HeaderRequestID))
	})
}

func (s *RouterSuite) TestAdminToken() {
	s.Run("missing token is unauthorized", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/trust/pins"))
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
		testutil.AssertErrorCode(s.T(), rr, string(dErrors.CodeUnauthorized))
	})

	s.Run("wrong token is unauthorized", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/trust/pins")
		req.Header.Set(admin.HeaderAdminToken, "guess")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("unconfigured token locks the admin routes", func() {
		router := s.newRouter(RouterConfig{RequestsPerSecond: 10, Burst: 10})
		req := testutil.NewRequest(s.T(), http.MethodGet, "/trust/pins")
		req.Header.Set(admin.HeaderAdminToken, "")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})
}

func (s *RouterSuite) TestAudit() {
	s.Run("default query returns newest entries", func() {
		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		s.audit.EXPECT().Query(gomock.Any(), audit.Filter{Limit: defaultAuditLimit}).Return([]audit.Entry{{
			ID:        "e1",
			Timestamp: at,
			Operation: audit.OperationPinningFailure,
			Subject:   "api.example.com",
			Outcome:   audit.OutcomeReported,
		}}, nil)

		rr := testutil.DoRequest(s.router, s.get("/audit"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[AuditListResponse](s.T(), rr)
		s.Require().Equal(1, got.Count)
		s.Equal("security", got.Entries[0].Category)
		s.Equal("reported", got.Entries[0].Outcome)
	})

	s.Run("filters are passed through", func() {
		since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		s.audit.EXPECT().Query(gomock.Any(), audit.Filter{
			Operations: []audit.Operation{audit.OperationRead, audit.OperationDelete},
			Subject:    "vault/token",
			Outcome:    audit.OutcomeDenied,
			Since:      since,
			Limit:      10,
		}).Return(nil, nil)

		rr := testutil.DoRequest(s.router, s.get(
			"/audit?operation=read&operation=delete&subject=vault/token&outcome=denied&since=2025-06-01T00:00:00Z&limit=10"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Equal(0, testutil.UnmarshalResponse[AuditListResponse](s.T(), rr).Count)
	})

	s.Run("unknown operation is a validation error", func() {
		rr := testutil.DoRequest(s.router, s.get("/audit?operation=launch"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertErrorCode(s.T(), rr, string(dErrors.CodeValidation))
	})

	s.Run("limit above the maximum is rejected", func() {
		rr := testutil.DoRequest(s.router, s.get("/audit?limit=5000"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("malformed time is rejected", func() {
		rr := testutil.DoRequest(s.router, s.get("/audit?until=yesterday"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertErrorCode(s.T(), rr, string(dErrors.CodeBadRequest))
	})

	s.Run("store failure is an opaque internal error", func() {
		s.audit.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, errors.New("pq: connection refused"))
		rr := testutil.DoRequest(s.router, s.get("/audit"))
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		s.NotContains(rr.Body.String(), "pq:")
	})
}

func (s *RouterSuite) TestVault() {
	s.Run("report lists keys only", func() {
		s.vault.EXPECT().PerformSecurityAudit(gomock.Any()).Return(&vaultModels.Report{
			TotalItems:       2,
			ProtectedItems:   []string{"token"},
			UnprotectedItems: []string{"theme"},
		}, nil)
		rr := testutil.DoRequest(s.router, s.get("/vault/report"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[vaultModels.Report](s.T(), rr)
		s.Equal(2, got.TotalItems)
		s.Equal([]string{"theme"}, got.UnprotectedItems)
	})

	s.Run("duplicates are never null", func() {
		s.vault.EXPECT().FindDuplicateValues(gomock.Any()).Return(nil, nil)
		rr := testutil.DoRequest(s.router, s.get("/vault/duplicates"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Contains(rr.Body.String(), `"groups":[]`)
	})

	s.Run("sweep removes expired items", func() {
		s.vault.EXPECT().RemoveExpiredItems(gomock.Any()).Return(3, nil)
		req := testutil.NewRequest(s.T(), http.MethodPost, "/vault/sweep")
		req.Header.Set(admin.HeaderAdminToken, adminToken)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Equal(3, testutil.UnmarshalResponse[SweepResponse](s.T(), rr).Removed)
	})

	s.Run("sweep is POST only", func() {
		rr := testutil.DoRequest(s.router, s.get("/vault/sweep"))
		testutil.AssertStatus(s.T(), rr, http.StatusMethodNotAllowed)
	})

	s.Run("coded errors keep their status", func() {
		s.vault.EXPECT().PerformSecurityAudit(gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeForbidden, "vault is locked"))
		rr := testutil.DoRequest(s.router, s.get("/vault/report"))
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})
}

func (s *RouterSuite) TestTrustAndGate() {
	s.Run("pins are listed", func() {
		s.trust.EXPECT().Pins().Return([]trustModels.PinnedHost{{
			Host:    "api.example.com",
			Primary: []trustModels.Pin{{Kind: trustModels.PinPublicKey, Hash: "abc="}},
		}})
		rr := testutil.DoRequest(s.router, s.get("/trust/pins"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[PinsResponse](s.T(), rr)
		s.Require().Len(got.Pins, 1)
		s.Equal("api.example.com", got.Pins[0].Host)
	})

	s.Run("reports are listed", func() {
		s.trust.EXPECT().Reports().Return([]trustModels.FailureReport{{
			Host: "api.example.com",
			Kind: trustModels.KindPinningFailed,
		}})
		rr := testutil.DoRequest(s.router, s.get("/trust/reports"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Contains(rr.Body.String(), "pinning_failed")
	})

	s.Run("gate status is reported", func() {
		s.gate.EXPECT().Status(gomock.Any()).Return(authModels.Status{
			State:                  authModels.StateLocked,
			AuthenticationRequired: true,
		})
		rr := testutil.DoRequest(s.router, s.get("/auth/status"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[authModels.Status](s.T(), rr)
		s.Equal(authModels.StateLocked, got.State)
		s.True(got.AuthenticationRequired)
	})
}

func (s *RouterSuite) TestRateLimit() {
	s.Run("clients over budget get 429", func() {
		router := s.newRouter(RouterConfig{AdminToken: adminToken, RequestsPerSecond: 0.01, Burst: 2})
		s.trust.EXPECT().Pins().Return(nil).Times(2)

		for range 2 {
			testutil.AssertStatus(s.T(), testutil.DoRequest(router, s.get("/trust/pins")), http.StatusOK)
		}
		rr := testutil.DoRequest(router, s.get("/trust/pins"))
		testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
		s.Equal("100", rr.Header().Get("Retry-After"))
	})

	s.Run("budgets are per client", func() {
		router := s.newRouter(RouterConfig{AdminToken: adminToken, RequestsPerSecond: 0.01, Burst: 1})
		s.trust.EXPECT().Pins().Return(nil).Times(2)

		testutil.AssertStatus(s.T(), testutil.DoRequest(router, s.get("/trust/pins")), http.StatusOK)
		other := s.get("/trust/pins")
		other.RemoteAddr = "198.51.100.7:5555"
		testutil.AssertStatus(s.T(), testutil.DoRequest(router, other), http.StatusOK)
	})

	s.Run("wrong tokens spend the budget too", func() {
		router := s.newRouter(RouterConfig{AdminToken: adminToken, RequestsPerSecond: 1, Burst: 2})

		codes := map[int]int{}
		for range 50 {
			req := testutil.NewRequest(s.T(), http.MethodGet, "/trust/pins")
			req.Header.Set(admin.HeaderAdminToken, "guess")
			codes[testutil.DoRequest(router, req).Code]++
		}
		s.LessOrEqual(codes[http.StatusUnauthorized], 3)
		s.GreaterOrEqual(codes[http.StatusTooManyRequests], 47)
	})

	s.Run("forwarded address is ignored unless trusted", func() {
		router := s.newRouter(RouterConfig{AdminToken: adminToken, RequestsPerSecond: 0.01, Burst: 1})
		s.trust.EXPECT().Pins().Return(nil).Times(1)

		testutil.AssertStatus(s.T(), testutil.DoRequest(router, s.get("/trust/pins")), http.StatusOK)
		spoofed := s.get("/trust/pins")
		spoofed.Header.Set("X-Forwarded-For", "203.0.113.9")
		rr := testutil.DoRequest(router, spoofed)
		testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
		s.True(strings.Contains(rr.Body.String(), "rate_limit_exceeded"))
	})
}
