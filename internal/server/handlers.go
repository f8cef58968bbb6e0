package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/config"
	"github.com/dgnsrekt/optionflow/internal/flow"
	"github.com/dgnsrekt/optionflow/internal/gex"
	"github.com/dgnsrekt/optionflow/internal/scanner"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
	"github.com/dgnsrekt/optionflow/internal/service"
	"github.com/dgnsrekt/optionflow/internal/session"
	"github.com/dgnsrekt/optionflow/internal/upstream"
)

// FlowService runs flow scans.
type FlowService interface {
	Scan(ctx context.Context, req scanner.Request) (*service.Report, error)
}

// GammaService builds gamma profiles.
type GammaService interface {
	Profile(ctx context.Context, underlying string, live gex.LiveOI) (*gex.Profile, error)
}

type Server struct {
	flow    FlowService
	gamma   GammaService
	tiers   []flow.Tier
	config  config.ServerConfig
	metrics *Metrics
	logger  *zap.Logger
}

func NewServer(f FlowService, g GammaService, tiers []flow.Tier, cfg config.ServerConfig, metrics *Metrics, logger *zap.Logger) *Server {
	return &Server{
		flow:    f,
		gamma:   g,
		tiers:   tiers,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type summaryResponse struct {
	flow.Summary
	PutCallRatio float64 `json:"put_call_ratio"`
}

type underlyingStatus struct {
	Symbol          string  `json:"symbol"`
	Spot            float64 `json:"spot"`
	Contracts       int     `json:"contracts"`
	ContractsFailed int     `json:"contracts_failed"`
	Prints          int     `json:"prints"`
	SpotUnresolved  int     `json:"spot_unresolved"`
	Emitted         int     `json:"emitted"`
	Error           string  `json:"error,omitempty"`
}

type windowResponse struct {
	State string    `json:"state"`
	Date  string    `json:"date"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

type flowResponse struct {
	ScanID      string             `json:"scan_id"`
	Window      windowResponse     `json:"window"`
	Trades      []flow.Flagged     `json:"trades"`
	Combos      []flow.Combo       `json:"combos"`
	Summary     summaryResponse    `json:"summary"`
	Underlyings []underlyingStatus `json:"underlyings"`
	DurationMs  int64              `json:"duration_ms"`
}

type liveOIRequest struct {
	LiveOI []gex.LiveOIEntry `json:"live_oi"`
}

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ScanFlow handles GET /v1/flow?symbols=
func (s *Server) ScanFlow(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	if err := runtime.BindQueryParameter("form", false, true, "symbols", r.URL.Query(), &symbols); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid format for parameter symbols: %v", err))
		return
	}
	s.scan(w, r, symbols)
}

// ScanSymbolFlow handles GET /v1/flow/{symbol}
func (s *Server) ScanSymbolFlow(w http.ResponseWriter, r *http.Request) {
	symbol, err := pathSymbol(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.scan(w, r, []string{symbol})
}

func pathSymbol(r *http.Request) (string, error) {
	var symbol string
	err := runtime.BindStyledParameterWithOptions("simple", "symbol", chi.URLParam(r, "symbol"), &symbol, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return "", fmt.Errorf("invalid format for parameter symbol: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(symbol)), nil
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request, raw []string) {
	symbols := scanner.NormalizeSymbols(raw)
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "at least one symbol is required")
		return
	}
	if s.config.MaxSymbols > 0 && len(symbols) > s.config.MaxSymbols {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d symbols per request", s.config.MaxSymbols))
		return
	}
	if err := config.ValidateTickers(symbols); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := scanner.Request{Symbols: symbols}
	var expiration *string
	if err := runtime.BindQueryParameter("form", true, false, "expiration", r.URL.Query(), &expiration); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid format for parameter expiration: %v", err))
		return
	}
	if expiration != nil {
		exp, err := time.Parse(time.DateOnly, *expiration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expiration must be YYYY-MM-DD")
			return
		}
		req.Expiration = &exp
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	s.logger.Debug("flow scan request", zap.Strings("symbols", symbols))
	start := time.Now()
	report, err := s.flow.Scan(ctx, req)
	s.metrics.ObserveScan(report, err, time.Since(start))
	if err != nil {
		s.logger.Warn("flow scan failed", zap.Strings("symbols", symbols), zap.Error(err))
		writeError(w, scanStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, newFlowResponse(report))
}

// GetGammaProfile handles GET /v1/gex/{symbol}
func (s *Server) GetGammaProfile(w http.ResponseWriter, r *http.Request) {
	s.profile(w, r, nil)
}

// BuildGammaProfile handles POST /v1/gex/{symbol} with live OI overrides.
func (s *Server) BuildGammaProfile(w http.ResponseWriter, r *http.Request) {
	var body liveOIRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	symbol, err := pathSymbol(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	live, err := gex.BuildLiveOI(symbol, body.LiveOI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.profile(w, r, live)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request, live gex.LiveOI) {
	symbol, err := pathSymbol(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !config.ValidTicker(symbol) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid symbol %q", symbol))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	profile, err := s.gamma.Profile(ctx, symbol, live)
	s.metrics.ObserveProfile(err)
	if err != nil {
		s.logger.Warn("gamma profile failed", zap.String("symbol", symbol), zap.Error(err))
		writeError(w, profileStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ListTiers handles GET /v1/tiers
func (s *Server) ListTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tiers)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := scheduler.WithPriority(r.Context(), scheduler.Interactive)
	if s.config.RequestTimeoutSec > 0 {
		return context.WithTimeout(ctx, time.Duration(s.config.RequestTimeoutSec)*time.Second)
	}
	return context.WithCancel(ctx)
}

func newFlowResponse(report *service.Report) flowResponse {
	resp := flowResponse{
		Trades:      report.Trades,
		Combos:      report.Combos,
		Summary:     summaryResponse{Summary: report.Summary, PutCallRatio: report.Summary.PutCallRatio()},
		Underlyings: []underlyingStatus{},
	}
	if b := report.Batch; b != nil {
		resp.ScanID = b.ID
		resp.Window = newWindowResponse(b.Window)
		resp.DurationMs = b.Duration.Milliseconds()
		for _, u := range b.Underlyings {
			st := underlyingStatus{
				Symbol:          u.Symbol,
				Spot:            u.Spot,
				Contracts:       u.Contracts,
				ContractsFailed: u.ContractsFailed,
				Prints:          u.Prints,
				SpotUnresolved:  u.SpotUnresolved,
				Emitted:         u.Emitted,
			}
			if u.Error != nil {
				st.Error = u.Error.Error()
			}
			resp.Underlyings = append(resp.Underlyings, st)
		}
	}
	return resp
}

func newWindowResponse(w session.Window) windowResponse {
	return windowResponse{State: w.State.String(), Date: w.Date, From: w.From, To: w.To}
}

func scanStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func profileStatus(err error) int {
	switch {
	case errors.Is(err, gex.ErrNoSpot), errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
