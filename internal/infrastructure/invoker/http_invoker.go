// Package invoker calls job handlers over HTTP. Handlers are plain POST
// endpoints resolved against one base URL; the fabric treats them as opaque
// and judges an invocation only by its status code.
package invoker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sharplines/odds-fabric/internal/domain/job"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
	"github.com/sharplines/odds-fabric/internal/platform/resilience"
	"github.com/sharplines/odds-fabric/internal/usecase"
)

var invokerTracer = otel.Tracer("odds-fabric/internal/infrastructure/invoker")

const maxBodyPreview = 4096

type HTTPInvokerConfig struct {
	BaseURL          string
	InternalJobToken string
	Timeout          time.Duration
	Breaker          resilience.CircuitBreakerConfig
}

// HTTPInvoker is the production HandlerInvoker. A shared circuit breaker
// guards the handler backend: once it trips, invocations fail fast and the
// retry policy decides what happens to each job.
type HTTPInvoker struct {
	client           *fasthttp.Client
	baseURL          string
	internalJobToken string
	timeout          time.Duration
	breaker          *resilience.CircuitBreaker
	logger           *logging.Logger
}

func NewHTTPInvoker(cfg HTTPInvokerConfig, logger *logging.Logger) (*HTTPInvoker, error) {
	baseURL, err := validateHTTPBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid handler base URL")
	}
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	var breaker *resilience.CircuitBreaker
	if cfg.Breaker.Enabled {
		breaker = resilience.NewCircuitBreaker(cfg.Breaker)
	}

	return &HTTPInvoker{
		client: &fasthttp.Client{
			Name:                "odds-fabric",
			MaxIdleConnDuration: time.Minute,
			ReadTimeout:         timeout,
			WriteTimeout:        30 * time.Second,
		},
		baseURL:          baseURL,
		internalJobToken: strings.TrimSpace(cfg.InternalJobToken),
		timeout:          timeout,
		breaker:          breaker,
		logger:           logger,
	}, nil
}

func (i *HTTPInvoker) Invoke(ctx context.Context, ref job.HandlerRef, payload job.Payload) (usecase.InvocationResult, error) {
	path := "/" + strings.TrimLeft(strings.TrimSpace(ref.String()), "/")
	if path == "/" {
		return usecase.InvocationResult{}, errors.New("handler path is required")
	}
	targetURL := i.baseURL + path

	ctx, span := invokerTracer.Start(ctx, "invoker.HTTPInvoker.Invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("handler.path", path),
			attribute.String("handler.url", targetURL),
		),
	)
	defer span.End()

	if i.breaker != nil {
		if err := i.breaker.Allow(); err != nil {
			span.SetStatus(codes.Error, "circuit open")
			return usecase.InvocationResult{}, errors.Wrapf(err, "handler %s", path)
		}
	}

	if payload == nil {
		payload = job.Payload{}
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return usecase.InvocationResult{}, errors.Wrap(err, "encode handler payload")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(targetURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if i.internalJobToken != "" {
		req.Header.Set("X-Internal-Job-Token", i.internalJobToken)
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		req.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-%s",
			spanCtx.TraceID(), spanCtx.SpanID(), spanCtx.TraceFlags()))
	}
	req.SetBody(body)

	timeout := i.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return usecase.InvocationResult{}, errors.Wrapf(context.DeadlineExceeded, "handler %s", path)
	}

	started := time.Now()
	doErr := i.client.DoTimeout(req, resp, timeout)
	duration := time.Since(started)
	result := usecase.InvocationResult{DurationMs: duration.Milliseconds()}

	if doErr != nil {
		i.recordFailure()
		span.SetStatus(codes.Error, doErr.Error())
		if errors.Is(doErr, fasthttp.ErrTimeout) {
			return result, errors.Wrapf(doErr, "handler %s timed out after %s", path, timeout.Round(time.Millisecond))
		}
		return result, errors.Wrapf(doErr, "call handler %s", path)
	}

	status := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.status_code", status))

	if status/100 != 2 {
		i.recordFailure()
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
		return result, errors.Newf("handler %s returned status %d body=%s",
			path, status, previewBody(resp.Body()))
	}

	if i.breaker != nil {
		i.breaker.RecordSuccess()
	}
	result.Success = true
	i.logger.DebugContext(ctx, "handler invoked",
		"path", path,
		"status", status,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

func (i *HTTPInvoker) recordFailure() {
	if i.breaker != nil {
		i.breaker.RecordFailure()
	}
}

func previewBody(body []byte) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	n := len(body)
	if n > maxBodyPreview {
		n = maxBodyPreview
	}
	_, _ = buf.Write(body[:n])
	if len(body) > maxBodyPreview {
		_, _ = buf.WriteString("...(truncated)")
	}
	return strings.TrimSpace(buf.String())
}

func validateHTTPBaseURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", errors.New("value is empty")
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", errors.Wrapf(err, "parse %q", candidate)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.Newf("%q uses unsupported scheme %q; expected http or https", candidate, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", errors.Newf("%q has empty host", candidate)
	}

	return strings.TrimRight(candidate, "/"), nil
}
