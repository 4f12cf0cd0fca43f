package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// ErrorReason categorizes why a model invocation failed. It decides whether
// stream creation is retried, is the kind of in-band error events, and is
// stored as the reason of a failed run.
type ErrorReason string

const (
	ReasonBilling          ErrorReason = "billing"
	ReasonRateLimit        ErrorReason = "rate_limit"
	ReasonAuth             ErrorReason = "auth"
	ReasonTimeout          ErrorReason = "timeout"
	ReasonServerError      ErrorReason = "server_error"
	ReasonInvalidRequest   ErrorReason = "invalid_request"
	ReasonModelUnavailable ErrorReason = "model_unavailable"
	ReasonContentFilter    ErrorReason = "content_filter"
	ReasonUnknown          ErrorReason = "unknown"
)

// IsRetryable reports whether creating the stream again may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a failed model invocation. It matches
// agent.ErrModelInvocation, so a run that hits it fails with kind
// model_invocation and its Reason as the failure reason.
type ProviderError struct {
	Reason   ErrorReason
	Provider string
	Model    string
	Status   int    // HTTP status, when known
	Code     string // provider error code, e.g. "invalid_api_key"
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Reason)
	if e.Provider != "" {
		b.WriteString(" " + e.Provider)
	}
	if e.Model != "" {
		b.WriteString(" model=" + e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(" code=" + e.Code)
	}
	switch {
	case e.Message != "":
		b.WriteString(" " + e.Message)
	case e.Cause != nil:
		b.WriteString(" " + e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is makes every ProviderError match agent.ErrModelInvocation.
func (e *ProviderError) Is(target error) bool {
	return target == agent.ErrModelInvocation
}

// FailureReason reports the reason recorded on a run failed by e.
func (e *ProviderError) FailureReason() string { return string(e.Reason) }

// Event renders e as an in-band error event.
func (e *ProviderError) Event() *models.StreamEvent {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return models.NewErrorEvent(string(e.Reason), msg)
}

// NewProviderError wraps cause, classifying it from its text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: ReasonUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies by it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithCode records the provider error code. Known codes override the
// status classification.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason, ok := errorCodes[strings.ToLower(code)]; ok {
		e.Reason = reason
	}
	return e
}

// WithMessage replaces the message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// messagePatterns classify errors without a status, in priority order.
var messagePatterns = []struct {
	reason  ErrorReason
	needles []string
}{
	{ReasonTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "too many requests", "429"}},
	{ReasonAuth, []string{"unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"}},
	{ReasonBilling, []string{"billing", "payment", "quota", "insufficient", "402"}},
	{ReasonContentFilter, []string{"content_filter", "content policy", "safety", "blocked"}},
	{ReasonModelUnavailable, []string{"model not found", "model_not_found", "does not exist", "unavailable"}},
	{ReasonServerError, []string{"internal server", "server error", "500", "502", "503", "504"}},
}

// errorCodes maps OpenAI-compatible error codes to reasons.
var errorCodes = map[string]ErrorReason{
	"rate_limit_error":         ReasonRateLimit,
	"rate_limit_exceeded":      ReasonRateLimit,
	"authentication_error":     ReasonAuth,
	"invalid_api_key":          ReasonAuth,
	"billing_error":            ReasonBilling,
	"insufficient_quota":       ReasonBilling,
	"model_not_found":          ReasonModelUnavailable,
	"model_not_available":      ReasonModelUnavailable,
	"content_policy_violation": ReasonContentFilter,
	"content_filter":           ReasonContentFilter,
	"server_error":             ReasonServerError,
	"internal_error":           ReasonServerError,
	"invalid_request_error":    ReasonInvalidRequest,
}

// ClassifyError derives a reason from the error text.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.reason
			}
		}
	}
	return ReasonUnknown
}

func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	_, ok := GetProviderError(err)
	return ok
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if perr, ok := GetProviderError(err); ok {
		return perr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
