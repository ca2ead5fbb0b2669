package httptransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	authModels "trustkit/internal/authgate/models"
	trustModels "trustkit/internal/trust/models"
	vaultModels "trustkit/internal/vault/models"
	dErrors "trustkit/pkg/domain-errors"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/platform/httputil"
	"trustkit/pkg/requestcontext"
)

//go:generate mockgen -source=handlers.go -destination=mocks/mocks.go -package=mocks AuditReader,VaultInspector,TrustInspector,GateInspector

// AuditReader lists audit entries.
type AuditReader interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// VaultInspector reports on vault contents without reading values.
type VaultInspector interface {
	PerformSecurityAudit(ctx context.Context) (*vaultModels.Report, error)
	FindDuplicateValues(ctx context.Context) ([]vaultModels.DuplicateGroup, error)
	RemoveExpiredItems(ctx context.Context) (int, error)
}

// TrustInspector exposes the pin table and report-only failures.
type TrustInspector interface {
	Pins() []trustModels.PinnedHost
	Reports() []trustModels.FailureReport
}

// GateInspector exposes the authentication gate's state.
type GateInspector interface {
	Status(ctx context.Context) authModels.Status
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

var validate = validator.New()

// auditQuery is the validated form of GET /audit's query string.
type auditQuery struct {
	Operations []string `validate:"dive,oneof=authenticate read write delete export pinningFailure lockout rotate maintenance"`
	Outcome    string   `validate:"omitempty,oneof=success failure denied cancelled reported"`
	Subject    string   `validate:"max=256"`
	Limit      int      `validate:"gte=0,lte=1000"`
}

// AuditEntryResponse is the wire form of an audit entry.
type AuditEntryResponse struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Category  string    `json:"category"`
	Subject   string    `json:"subject"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
}

type AuditListResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
	Count   int                  `json:"count"`
}

type DuplicatesResponse struct {
	Groups []vaultModels.DuplicateGroup `json:"groups"`
}

type SweepResponse struct {
	Removed int `json:"removed"`
}

type PinsResponse struct {
	Pins []trustModels.PinnedHost `json:"pins"`
}

type ReportsResponse struct {
	Reports []trustModels.FailureReport `json:"reports"`
}

// Handler serves the admin API. It only ever returns metadata: keys,
// fingerprints, pins and counters.
type Handler struct {
	audit  AuditReader
	vault  VaultInspector
	trust  TrustInspector
	gate   GateInspector
	logger *slog.Logger
}

func NewHandler(auditReader AuditReader, vault VaultInspector, trust TrustInspector, gate GateInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		audit:  auditReader,
		vault:  vault,
		trust:  trust,
		gate:   gate,
		logger: logger,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.audit.Query(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "failed to query audit log", err)
		return
	}
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Operation: string(e.Operation),
			Category:  string(e.Category()),
			Subject:   e.Subject,
			Outcome:   string(e.Outcome),
			Reason:    e.Reason,
			RequestID: e.RequestID,
			Actor:     e.Actor,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, AuditListResponse{Entries: out, Count: len(out)})
}

func (h *Handler) handleVaultReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.vault.PerformSecurityAudit(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to build vault report", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleVaultDuplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := h.vault.FindDuplicateValues(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to find duplicate values", err)
		return
	}
	if groups == nil {
		groups = []vaultModels.DuplicateGroup{}
	}
	httputil.WriteJSON(w, http.StatusOK, DuplicatesResponse{Groups: groups})
}

func (h *Handler) handleVaultSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.vault.RemoveExpiredItems(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to sweep expired items", err)
		return
	}
	h.logger.InfoContext(r.Context(), "vault sweep requested",
		"request_id", requestcontext.RequestID(r.Context()),
		"removed", n,
	)
	httputil.WriteJSON(w, http.StatusOK, SweepResponse{Removed: n})
}

func (h *Handler) handleTrustPins(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, PinsResponse{Pins: h.trust.Pins()})
}

func (h *Handler) handleTrustReports(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, ReportsResponse{Reports: h.trust.Reports()})
}

func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.gate.Status(r.Context()))
}

// fail logs err and writes it. Errors without a domain code become a bare
// internal error so storage detail never leaves the process.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		err = dErrors.New(dErrors.CodeInternal, msg)
	}
	httputil.WriteError(w, err)
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	in := auditQuery{
		Operations: q["operation"],
		Outcome:    q.Get("outcome"),
		Subject:    q.Get("subject"),
		Limit:      defaultAuditLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer")
		}
		in.Limit = n
	}
	if err := validate.Struct(in); err != nil {
		return audit.Filter{}, dErrors.Wrap(validationMessage(err), dErrors.CodeValidation, "invalid audit query")
	}

	filter := audit.Filter{
		Subject: in.Subject,
		Outcome: audit.Outcome(in.Outcome),
		Limit:   in.Limit,
	}
	if filter.Limit == 0 {
		filter.Limit = maxAuditLimit
	}
	for _, op := range in.Operations {
		filter.Operations = append(filter.Operations, audit.Operation(op))
	}
	var err error
	if filter.Since, err = parseTime(q.Get("since"), "since"); err != nil {
		return audit.Filter{}, err
	}
	if filter.Until, err = parseTime(q.Get("until"), "until"); err != nil {
		return audit.Filter{}, err
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "until must not be before since")
	}
	return filter, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func validationMessage(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
