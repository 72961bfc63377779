package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/semantrix/genroute/internal/models"
	"github.com/semantrix/genroute/internal/router"
	v1 "github.com/semantrix/genroute/pkg/api/v1"
	"go.uber.org/zap"
)

// maxBodyBytes bounds the size of a generation request body.
const maxBodyBytes = 1 << 20

// handleHealthCheck reports service status from the cached provider verdicts.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	info := s.manager.ProvidersInfo()

	uptime := make(map[string]float64)
	if s.healthChecker != nil {
		for name, m := range s.healthChecker.GetAllProviderMetrics() {
			uptime[name] = m.Uptime
		}
	}

	healthy := 0
	providers := make(map[string]v1.ProviderHealth, len(info))
	for name, pi := range info {
		status := "unhealthy"
		if pi.Healthy {
			status = "healthy"
			healthy++
		}
		providers[name] = v1.ProviderHealth{
			Status:    status,
			LastCheck: pi.LastChecked,
			Error:     pi.LastError,
			Uptime:    uptime[name],
		}
	}

	status, code := "healthy", http.StatusOK
	switch {
	case healthy == 0:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case healthy < len(info):
		status = "degraded"
	}

	writeJSON(w, code, v1.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Providers: providers,
		Version:   s.version,
	})
}

// handleGenerate serves a generation request through the provider manager.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)

	var apiReq v1.GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&apiReq); err != nil {
		s.logger.Warn("Failed to decode request", zap.String("request_id", reqID), zap.Error(err))
		s.writeError(w, r, http.StatusBadRequest, v1.ErrorDetails{Type: "invalid_request", Message: "invalid request body"})
		return
	}
	if apiReq.RequestID != "" {
		reqID = apiReq.RequestID
	}

	if err := s.validate.Struct(apiReq); err != nil {
		s.writeError(w, r, http.StatusBadRequest, v1.ErrorDetails{
			Type:    "invalid_request",
			Message: "request validation failed",
			Fields:  fieldErrors(err),
		})
		return
	}

	req := toGenerationRequest(apiReq, reqID)
	if len(req.Messages) == 0 {
		s.writeError(w, r, http.StatusBadRequest, v1.ErrorDetails{Type: "invalid_request", Message: "prompt or messages is required"})
		return
	}

	result, err := s.manager.Generate(ctx, req, apiReq.Provider)
	if err != nil {
		s.tracing.RecordError(ctx, err, map[string]string{"request_id": reqID})
		s.metrics.RecordRequestError(r.Method, "/v1/generate", errorCode(err))
		code, details := errorDetails(ctx, err)
		s.writeError(w, r, code, details)
		return
	}

	writeJSON(w, http.StatusOK, v1.GenerateResponse{
		RequestID:        result.RequestID,
		Text:             result.Text,
		Provider:         result.ProviderUsed,
		Model:            result.Model,
		Usage:            v1.Usage(result.Usage),
		Cost:             result.Cost,
		CostRecorded:     result.Accounting.Applied,
		FallbackUsed:     result.FallbackUsed,
		OriginalProvider: result.OriginalProvider,
		LatencyMS:        result.Latency.Milliseconds(),
	})
}

// handleListProviders returns provider names and the routing setup.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	cfg := s.manager.Config()
	writeJSON(w, http.StatusOK, v1.ProvidersResponse{
		Providers:       s.manager.ListProviders(),
		DefaultProvider: cfg.DefaultProvider,
		FallbackOrder:   cfg.FallbackOrder,
		Strategy:        cfg.Strategy,
	})
}

// handleProvidersInfo returns per-provider model, health and usage.
func (s *Server) handleProvidersInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toProviderInfo(s.manager.ProvidersInfo()))
}

// handleStats returns request totals and per-provider statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	writeJSON(w, http.StatusOK, v1.StatsResponse{
		TotalRequests: stats.TotalRequests,
		Strategy:      stats.Strategy,
		Providers:     toProviderInfo(stats.Providers),
		Timestamp:     time.Now(),
	})
}

// handleCosts returns the cost summary with monthly projections.
func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	costs := s.manager.CostStats()

	resp := v1.CostsResponse{
		Providers: make(map[string]v1.ProviderCost, len(costs.Summary)),
		Daily:     costs.Daily,
		Monthly:   costs.Monthly,
		Timestamp: time.Now(),
	}
	for name, pc := range costs.Summary {
		resp.Providers[name] = v1.ProviderCost{
			Total:     pc.Total,
			Today:     pc.Today,
			ThisMonth: pc.ThisMonth,
			Projected: costs.Projected[name],
			Tokens:    pc.Tokens,
		}
		resp.Total += pc.Total
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleTestProviders probes every provider and records the verdicts.
func (s *Server) handleTestProviders(w http.ResponseWriter, r *http.Request) {
	var results map[string]models.ProbeResult
	if s.healthChecker != nil {
		results = s.healthChecker.ForceHealthCheck(r.Context())
	} else {
		results = s.manager.TestAllProviders(r.Context())
	}

	resp := v1.ProbeResponse{
		Results:   make(map[string]v1.ProbeResult, len(results)),
		Total:     len(results),
		Timestamp: time.Now(),
	}
	for name, res := range results {
		resp.Results[name] = v1.ProbeResult{
			Healthy:   res.Healthy,
			Error:     res.Error,
			LatencyMS: res.Latency.Milliseconds(),
		}
		if res.Healthy {
			resp.Healthy++
		}
	}

	s.logger.Info("Provider test completed",
		zap.String("request_id", requestID(r.Context())),
		zap.Int("healthy", resp.Healthy),
		zap.Int("total", resp.Total))

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, details v1.ErrorDetails) {
	details.StatusCode = code
	writeJSON(w, code, v1.ErrorResponse{Error: details, RequestID: requestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// errorDetails maps a manager error to an HTTP status and error body.
func errorDetails(ctx context.Context, err error) (int, v1.ErrorDetails) {
	var failed *router.AllProvidersFailedError
	switch {
	case errors.As(err, &failed):
		code := http.StatusBadGateway
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		details := v1.ErrorDetails{
			Type:      "all_providers_failed",
			Message:   err.Error(),
			Provider:  failed.OriginalProvider,
			Retryable: true,
		}
		for _, a := range failed.Attempts {
			details.Attempts = append(details.Attempts, v1.Attempt{
				Provider: a.Provider,
				Error:    a.Err.Error(),
				Skipped:  a.Skipped,
			})
		}
		return code, details
	case errors.Is(err, router.ErrUnknownProvider):
		return http.StatusBadRequest, v1.ErrorDetails{Type: "unknown_provider", Message: err.Error()}
	case errors.Is(err, router.ErrInvalidRequest):
		return http.StatusBadRequest, v1.ErrorDetails{Type: "invalid_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, v1.ErrorDetails{Type: "internal_error", Message: err.Error()}
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, router.ErrAllProvidersFailed):
		return "all_providers_failed"
	case errors.Is(err, router.ErrUnknownProvider):
		return "unknown_provider"
	default:
		return "internal_error"
	}
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"request": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = "failed on '" + fe.Tag() + "'"
	}
	return fields
}

func toGenerationRequest(apiReq v1.GenerateRequest, reqID string) *models.GenerationRequest {
	messages := make([]models.Message, 0, len(apiReq.Messages)+1)
	for _, m := range apiReq.Messages {
		messages = append(messages, models.Message{Role: models.Role(m.Role), Content: m.Content})
	}
	if apiReq.Prompt != "" {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: apiReq.Prompt})
	}

	return &models.GenerationRequest{
		SystemPrompt: apiReq.SystemPrompt,
		Messages:     messages,
		Options: models.Options{
			Temperature:      apiReq.Temperature,
			MaxTokens:        apiReq.MaxTokens,
			TopP:             apiReq.TopP,
			TopK:             apiReq.TopK,
			FrequencyPenalty: apiReq.FrequencyPenalty,
			PresencePenalty:  apiReq.PresencePenalty,
			Stop:             apiReq.Stop,
		},
		RequestID: reqID,
	}
}

func toProviderInfo(info map[string]router.ProviderInfo) map[string]v1.ProviderInfo {
	out := make(map[string]v1.ProviderInfo, len(info))
	for name, pi := range info {
		out[name] = v1.ProviderInfo{
			Model:        pi.Model,
			Configured:   pi.Configured,
			Healthy:      pi.Healthy,
			SuccessRate:  pi.SuccessRate,
			AvgLatencyMS: float64(pi.AvgLatency) / float64(time.Millisecond),
			SuccessCount: pi.SuccessCount,
			ErrorCount:   pi.ErrorCount,
			LastChecked:  pi.LastChecked,
			LastError:    pi.LastError,
		}
	}
	return out
}
