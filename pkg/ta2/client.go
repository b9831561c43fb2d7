package ta2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const logModule = "TA2Client"

// CallObserver receives the outcome of every remote call.
type CallObserver interface {
	ObserveCall(method, outcome string, elapsed time.Duration)
}

type Options struct {
	UserAgent         string
	Version           string
	AllowedValueTypes []string
	ConnectTimeout    time.Duration
	// ScoreConcurrency bounds the per-solution fan-out of ScoreSolutions.
	ScoreConcurrency int
	// DialOptions are appended to the defaults; tests use them for bufconn.
	DialOptions []grpc.DialOption
}

// ScoreReport holds per-solution outcomes of a batch score. Every requested id
// lands in exactly one of the two maps.
type ScoreReport struct {
	Scores   map[string]map[string]float64
	Failures map[string]error
}

// Client talks to one TA2 endpoint over a single persistent connection. It keeps
// no solution state; callers hand results to the session store.
type Client struct {
	mu        sync.Mutex
	opts      Options
	conn      *grpc.ClientConn
	addr      string
	handshake bool

	logger   logger.ILogger
	observer CallObserver
	tracer   trace.Tracer
}

func NewClient(opts Options, log logger.ILogger, observer CallObserver) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ScoreConcurrency <= 0 {
		opts.ScoreConcurrency = 4
	}
	return &Client{
		opts:     opts,
		logger:   log,
		observer: observer,
		tracer:   otel.Tracer("d3m-mini-ms/ta2"),
	}
}

// Connect establishes the connection to addr and waits until it is ready.
// Calling it again for the same address reuses the existing connection.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.addr != addr {
		c.logger.Info(logModule, "Switching TA2 endpoint", map[string]interface{}{"from": c.addr, "to": addr})
		_ = c.conn.Close()
		c.conn, c.addr, c.handshake = nil, "", false
	}

	if c.conn == nil {
		dialOpts := append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		}, c.opts.DialOptions...)

		conn, err := grpc.NewClient(addr, dialOpts...)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
		}
		c.conn, c.addr = conn, addr
	}

	if err := waitReady(ctx, c.conn, c.opts.ConnectTimeout); err != nil {
		c.logger.Warn(logModule, "TA2 endpoint unreachable", map[string]interface{}{"address": addr, "error": err.Error()})
		return fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
	}
	return nil
}

func waitReady(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("last state %s: %w", state, ctx.Err())
		}
	}
}

// Connected reports whether the underlying connection is currently ready.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.GetState() == connectivity.Ready
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.addr, c.handshake = nil, "", false
	return err
}

func (c *Client) connection(requireHello bool) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if requireHello && !c.handshake {
		return nil, ErrHandshakeRequired
	}
	return c.conn, nil
}

func (c *Client) startCall(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "ta2"+method, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
		if c.observer != nil {
			c.observer.ObserveCall(method, outcome, time.Since(started))
		}
	}
}

// Hello performs the version handshake. It must succeed before any other call.
func (c *Client) Hello(ctx context.Context) (resp *HelloResponse, err error) {
	conn, err := c.connection(false)
	if err != nil {
		return nil, err
	}
	ctx, done := c.startCall(ctx, MethodHello)
	defer func() { done(err) }()

	resp = new(HelloResponse)
	if err := conn.Invoke(ctx, MethodHello, &HelloRequest{}, resp); err != nil {
		return nil, wrapCallError("Hello", err)
	}
	if resp.Version != c.opts.Version {
		c.mu.Lock()
		if c.conn == conn {
			c.handshake = false
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: remote speaks %q, relay speaks %q", ErrHandshake, resp.Version, c.opts.Version)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.handshake = true
	}
	c.mu.Unlock()

	c.logger.Info(logModule, "Handshake complete", map[string]interface{}{"user_agent": resp.UserAgent, "version": resp.Version})
	return resp, nil
}

// SearchSolutions submits a search and returns its id. Identity fields of req
// are filled from the client options.
func (c *Client) SearchSolutions(ctx context.Context, req SearchSolutionsRequest) (searchID string, err error) {
	conn, err := c.connection(true)
	if err != nil {
		return "", err
	}
	ctx, done := c.startCall(ctx, MethodSearchSolutions)
	defer func() { done(err) }()

	req.UserAgent = c.opts.UserAgent
	req.Version = c.opts.Version
	if len(req.AllowedValueTypes) == 0 {
		req.AllowedValueTypes = c.opts.AllowedValueTypes
	}

	resp := new(SearchSolutionsResponse)
	if err := conn.Invoke(ctx, MethodSearchSolutions, &req, resp); err != nil {
		return "", wrapCallError("SearchSolutions", err)
	}
	if resp.SearchID == "" {
		return "", fmt.Errorf("%w: empty search id", ErrSearchFailed)
	}
	return resp.SearchID, nil
}

// SearchResults streams discoveries for searchID into onFound until the remote
// reports a terminal state or closes the stream. If neither happens within
// deadline the call fails with ErrSearchTimeout. An error from onFound stops the
// stream and is returned as is.
func (c *Client) SearchResults(ctx context.Context, searchID string, deadline time.Duration, onFound func(SolutionFound) error) (err error) {
	conn, err := c.connection(true)
	if err != nil {
		return err
	}
	ctx, done := c.startCall(ctx, MethodGetSearchSolutionsResults, attribute.String("search_id", searchID))
	defer func() { done(err) }()

	parent := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	timedOut := func(cause error) error {
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no terminal signal for %s within %s", ErrSearchTimeout, searchID, deadline)
		}
		return wrapCallError("GetSearchSolutionsResults", cause)
	}

	stream, err := conn.NewStream(ctx, &searchResultsStreamDesc, MethodGetSearchSolutionsResults)
	if err != nil {
		return timedOut(err)
	}
	results := &grpc.GenericClientStream[GetSearchSolutionsResultsRequest, GetSearchSolutionsResultsResponse]{ClientStream: stream}
	if err := results.SendMsg(&GetSearchSolutionsResultsRequest{SearchID: searchID}); err != nil {
		return timedOut(err)
	}
	if err := results.CloseSend(); err != nil {
		return timedOut(err)
	}

	for {
		msg, err := results.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return timedOut(err)
		}
		if msg.SolutionID != "" {
			if err := onFound(SolutionFound{SolutionID: msg.SolutionID, InternalScore: msg.InternalScore}); err != nil {
				return err
			}
		}
		switch msg.Progress.State {
		case ProgressCompleted:
			return nil
		case ProgressErrored:
			return fmt.Errorf("%w: %s: %s", ErrSearchFailed, searchID, msg.Progress.Status)
		}
	}
}

// EndSearch tells the remote it can release the search.
func (c *Client) EndSearch(ctx context.Context, searchID string) (err error) {
	conn, err := c.connection(true)
	if err != nil {
		return err
	}
	ctx, done := c.startCall(ctx, MethodEndSearchSolutions, attribute.String("search_id", searchID))
	defer func() { done(err) }()

	if err := conn.Invoke(ctx, MethodEndSearchSolutions, &EndSearchSolutionsRequest{SearchID: searchID}, new(EndSearchSolutionsResponse)); err != nil {
		return wrapCallError("EndSearchSolutions", err)
	}
	return nil
}

// ScoreSolutions scores each id against metrics concurrently. Per-solution
// failures are reported in the result; only a missing handshake or a cancelled
// ctx fails the batch.
func (c *Client) ScoreSolutions(ctx context.Context, solutionIDs, metrics []string) (*ScoreReport, error) {
	if _, err := c.connection(true); err != nil {
		return nil, err
	}

	report := &ScoreReport{
		Scores:   make(map[string]map[string]float64),
		Failures: make(map[string]error),
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.opts.ScoreConcurrency)

	seen := make(map[string]bool, len(solutionIDs))
	for _, id := range solutionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			scores, err := c.ScoreSolution(ctx, id, metrics)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures[id] = err
				return nil
			}
			report.Scores[id] = scores
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// ScoreSolution submits one scoring request and follows it to completion.
func (c *Client) ScoreSolution(ctx context.Context, solutionID string, metrics []string) (scores map[string]float64, err error) {
	conn, err := c.connection(true)
	if err != nil {
		return nil, err
	}
	ctx, done := c.startCall(ctx, MethodScoreSolution, attribute.String("solution_id", solutionID))
	defer func() { done(err) }()

	req := &ScoreSolutionRequest{SolutionID: solutionID}
	for _, m := range metrics {
		req.PerformanceMetrics = append(req.PerformanceMetrics, PerformanceMetric{Metric: m})
	}
	resp := new(ScoreSolutionResponse)
	if err := conn.Invoke(ctx, MethodScoreSolution, req, resp); err != nil {
		return nil, wrapCallError("ScoreSolution", err)
	}

	stream, err := conn.NewStream(ctx, &scoreResultsStreamDesc, MethodGetScoreSolutionResults)
	if err != nil {
		return nil, wrapCallError("GetScoreSolutionResults", err)
	}
	results := &grpc.GenericClientStream[GetScoreSolutionResultsRequest, GetScoreSolutionResultsResponse]{ClientStream: stream}
	if err := results.SendMsg(&GetScoreSolutionResultsRequest{RequestID: resp.RequestID}); err != nil {
		return nil, wrapCallError("GetScoreSolutionResults", err)
	}
	if err := results.CloseSend(); err != nil {
		return nil, wrapCallError("GetScoreSolutionResults", err)
	}

	scores = make(map[string]float64)
	for {
		msg, err := results.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapCallError("GetScoreSolutionResults", err)
		}
		for _, s := range msg.Scores {
			scores[s.Metric.Metric] = s.Value
		}
		if msg.Progress.State == ProgressErrored {
			return nil, fmt.Errorf("%w: %s: %s", ErrScoreFailed, solutionID, msg.Progress.Status)
		}
		if msg.Progress.State == ProgressCompleted {
			break
		}
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: %s: no scores returned", ErrScoreFailed, solutionID)
	}
	return scores, nil
}

// DescribeSolution returns the raw description document for solutionID.
func (c *Client) DescribeSolution(ctx context.Context, solutionID string) (doc []byte, err error) {
	conn, err := c.connection(true)
	if err != nil {
		return nil, err
	}
	ctx, done := c.startCall(ctx, MethodDescribeSolution, attribute.String("solution_id", solutionID))
	defer func() { done(err) }()

	resp := new(DescribeSolutionResponse)
	if err := conn.Invoke(ctx, MethodDescribeSolution, &DescribeSolutionRequest{SolutionID: solutionID}, resp); err != nil {
		switch status.Code(err) {
		case codes.NotFound, codes.InvalidArgument:
			return nil, fmt.Errorf("%w: %s: %v", ErrDescribe, solutionID, status.Convert(err).Message())
		}
		return nil, wrapCallError("DescribeSolution", err)
	}
	if len(resp.Pipeline) == 0 {
		return nil, fmt.Errorf("%w: %s: empty pipeline", ErrDescribe, solutionID)
	}
	return json.Marshal(resp)
}
