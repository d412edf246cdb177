package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// File is one multipart file part. Open is called for every attempt, so a
// request can be reissued after a token refresh.
type File struct {
	Field       string
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Request describes one backend call. Body is sent as JSON unless Files is
// non-empty, in which case Form and Files are sent as multipart/form-data.
type Request struct {
	Method string
	Path   string
	Body   any
	Form   map[string]string
	Files  []File
}

// Response is a successful backend reply.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Options configures a Transport.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RPS and Burst shape outbound traffic. RPS <= 0 disables limiting.
	RPS    float64
	Burst  int
	Logger *zap.Logger
}

// Transport issues raw requests against the backend. It keeps the HTTP-only
// refresh cookie in the client's cookie jar but knows nothing about token
// refresh; that is the Gateway's job.
type Transport struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewTransport(opts Options) *Transport {
	logger := logging.OrNop(opts.Logger).Named("remote")

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetLogger(logger.Sugar()).
		SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Transport{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Do sends req with token as bearer credential (none when empty). Backend
// failures are returned as *Error; anything else is a transport failure.
func (t *Transport) Do(ctx context.Context, req Request, token string) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	requestID := uuid.NewString()
	r := t.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if token != "" {
		r.SetAuthToken(token)
	}

	if len(req.Files) > 0 {
		closers, err := attachFiles(r, req.Files)
		defer func() {
			for _, c := range closers {
				_ = c.Close()
			}
		}()
		if err != nil {
			return nil, err
		}
		r.SetMultipartFormData(req.Form)
	} else if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	start := time.Now()
	resp, err := r.Execute(method, req.Path)
	if err != nil {
		t.logger.Debug("request failed",
			zap.String("request_id", requestID),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}

	t.logger.Debug("request done",
		zap.String("request_id", requestID),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if apiErr := parseError(resp.StatusCode(), resp.Body()); apiErr != nil {
		return nil, apiErr
	}
	return &Response{Status: resp.StatusCode(), Body: resp.Body(), Header: resp.Header()}, nil
}

func attachFiles(r *resty.Request, files []File) ([]io.Closer, error) {
	var closers []io.Closer
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return closers, fmt.Errorf("open %s: %w", f.Name, err)
		}
		closers = append(closers, rc)
		r.SetMultipartField(f.Field, f.Name, f.ContentType, rc)
	}
	return closers, nil
}
