package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/observability"
	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/pkg/events"
	"github.com/xphd/d3m-mini-ms/pkg/store"
	"github.com/xphd/d3m-mini-ms/pkg/ta2"
)

const (
	orchestratorModule = "SearchOrchestrator"
	endSearchTimeout   = 5 * time.Second
)

// RunState is the orchestration lifecycle. Done and Failed are terminal.
type RunState string

const (
	StateIdle        RunState = "Idle"
	StateHandshaking RunState = "Handshaking"
	StateSearching   RunState = "Searching"
	StateScoring     RunState = "Scoring"
	StateDescribing  RunState = "Describing"
	StateDone        RunState = "Done"
	StateFailed      RunState = "Failed"
)

var allowedTransitions = map[RunState][]RunState{
	StateIdle:        {StateHandshaking, StateFailed},
	StateHandshaking: {StateSearching, StateFailed},
	StateSearching:   {StateScoring, StateFailed},
	StateScoring:     {StateDescribing, StateFailed},
	StateDescribing:  {StateDone, StateFailed},
}

func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func canTransition(from, to RunState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type OrchestratorConfig struct {
	Address          string
	TimeBoundMinutes int
	Priority         int
	Problem          json.RawMessage
	DatasetURI       string
	// Metrics is the fixed set scored for every discovered solution.
	Metrics        []string
	SearchDeadline time.Duration
}

// RunReport records what a run did, including per-solution failures that did
// not stop it.
type RunReport struct {
	Generation       uint64            `json:"generation"`
	SearchID         string            `json:"searchID,omitempty"`
	Discovered       []string          `json:"discovered"`
	SearchTimedOut   bool              `json:"searchTimedOut"`
	ScoreFailures    map[string]string `json:"scoreFailures,omitempty"`
	DescribeFailures map[string]string `json:"describeFailures,omitempty"`
}

// Run is the handle of one orchestration. It is bound to the session created
// for it and never touches a later one.
type Run struct {
	session *store.Session
	done    chan struct{}
	cancel  context.CancelFunc

	mu          sync.RWMutex
	state       RunState
	err         error
	report      RunReport
	stepStarted time.Time
}

func (r *Run) Generation() uint64 {
	return r.session.Generation()
}

func (r *Run) Session() *store.Session {
	return r.session
}

// Done is closed once the run reaches Done or Failed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Run) Report() RunReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.report
	out.Discovered = append([]string(nil), r.report.Discovered...)
	out.ScoreFailures = copyStrings(r.report.ScoreFailures)
	out.DescribeFailures = copyStrings(r.report.DescribeFailures)
	return out
}

func copyStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func errorStrings(in map[string]error) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.Error()
	}
	return out
}

// SessionStatus is the session header plus the state of its run.
type SessionStatus struct {
	store.Summary
	State RunState `json:"state"`
}

type ISearchOrchestrator interface {
	// Start supersedes any run in flight, opens a new session and drives it
	// in the background. The run outlives ctx's cancellation.
	Start(ctx context.Context) *Run
	// Run is Start followed by Wait. Cancelling ctx cancels the run.
	Run(ctx context.Context) (*Run, error)
	// Latest returns the most recently started run, or nil.
	Latest() *Run
	Status() SessionStatus
}

type searchOrchestrator struct {
	client    IRemoteSolutionClient
	solutions ISolutionService
	store     *store.SessionStore
	publisher IPublisherService
	metrics   *observability.RelayMetrics
	cfg       OrchestratorConfig
	logger    logger.ILogger

	mu     sync.Mutex
	latest *Run
}

func NewSearchOrchestrator(
	client IRemoteSolutionClient,
	solutions ISolutionService,
	sessions *store.SessionStore,
	publisher IPublisherService,
	metrics *observability.RelayMetrics,
	cfg OrchestratorConfig,
	log logger.ILogger,
) ISearchOrchestrator {
	return &searchOrchestrator{
		client:    client,
		solutions: solutions,
		store:     sessions,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    log,
	}
}

func (o *searchOrchestrator) Start(ctx context.Context) *Run {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.mu.Lock()
	if o.latest != nil {
		// Late results of the old run are discarded anyway; cancelling only
		// frees the remote sooner.
		o.latest.cancel()
	}
	run := &Run{
		session:     o.store.StartSession(),
		done:        make(chan struct{}),
		cancel:      cancel,
		state:       StateIdle,
		stepStarted: time.Now(),
	}
	run.report.Generation = run.session.Generation()
	o.latest = run
	o.mu.Unlock()

	o.logger.Info(orchestratorModule, "Session started", map[string]interface{}{"generation": run.Generation()})
	o.publish(runCtx, run, events.SessionStarted, map[string]interface{}{})

	go o.execute(runCtx, run)
	return run
}

func (o *searchOrchestrator) Run(ctx context.Context) (*Run, error) {
	run := o.Start(ctx)
	select {
	case <-run.Done():
		return run, run.Err()
	case <-ctx.Done():
		run.cancel()
		<-run.Done()
		return run, ctx.Err()
	}
}

func (o *searchOrchestrator) Latest() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest
}

func (o *searchOrchestrator) Status() SessionStatus {
	status := SessionStatus{Summary: o.store.Current().Summary(), State: StateIdle}
	if run := o.Latest(); run != nil && o.store.IsCurrent(run.session) {
		status.State = run.State()
	}
	return status
}

func (o *searchOrchestrator) execute(ctx context.Context, run *Run) {
	defer run.cancel()
	err := o.steps(ctx, run)
	o.finish(ctx, run, err)
	close(run.done)
}

func (o *searchOrchestrator) steps(ctx context.Context, run *Run) error {
	if err := o.handshake(ctx, run); err != nil {
		return err
	}
	if err := o.search(ctx, run); err != nil {
		return err
	}
	if err := o.score(ctx, run); err != nil {
		return err
	}
	if err := o.describe(ctx, run); err != nil {
		return err
	}
	return o.transition(ctx, run, StateDone)
}

// checkCurrent is called before each step and after each remote call.
func (o *searchOrchestrator) checkCurrent(run *Run) error {
	if !o.store.IsCurrent(run.session) {
		return ErrSuperseded
	}
	return nil
}

// stepErr prefers ErrSuperseded over err, since supersession cancels the
// run's context and would otherwise surface as a cancelled call.
func (o *searchOrchestrator) stepErr(run *Run, err error) error {
	if cerr := o.checkCurrent(run); cerr != nil {
		return cerr
	}
	return err
}

func (o *searchOrchestrator) transition(ctx context.Context, run *Run, to RunState) error {
	if err := o.checkCurrent(run); err != nil {
		return err
	}

	run.mu.Lock()
	from := run.state
	if !canTransition(from, to) {
		run.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	elapsed := time.Since(run.stepStarted)
	run.state = to
	run.stepStarted = time.Now()
	run.mu.Unlock()

	if from != StateIdle {
		o.metrics.ObserveStep(string(from), elapsed)
	}
	o.logger.Debug(orchestratorModule, "State changed", map[string]interface{}{
		"generation": run.Generation(),
		"from":       from,
		"to":         to,
	})
	o.publishState(ctx, run, to, nil)
	return nil
}

func (o *searchOrchestrator) handshake(ctx context.Context, run *Run) error {
	if err := o.transition(ctx, run, StateHandshaking); err != nil {
		return err
	}

	if err := o.client.Connect(ctx, o.cfg.Address); err != nil {
		run.session.SetConnectionState(store.StateDisconnected)
		return o.stepErr(run, err)
	}
	run.session.SetConnectionState(store.StateConnected)

	if _, err := o.client.Hello(ctx); err != nil {
		return o.stepErr(run, err)
	}
	return o.checkCurrent(run)
}

func (o *searchOrchestrator) search(ctx context.Context, run *Run) error {
	if err := o.transition(ctx, run, StateSearching); err != nil {
		return err
	}

	req := ta2.SearchSolutionsRequest{
		TimeBound: float64(o.cfg.TimeBoundMinutes),
		Priority:  float64(o.cfg.Priority),
		Problem:   o.cfg.Problem,
	}
	if o.cfg.DatasetURI != "" {
		req.Inputs = []ta2.Value{{DatasetURI: o.cfg.DatasetURI}}
	}

	searchID, err := o.client.SearchSolutions(ctx, req)
	if err != nil {
		return o.stepErr(run, err)
	}
	if err := o.checkCurrent(run); err != nil {
		return err
	}
	if err := run.session.BindSearchID(searchID); err != nil {
		return err
	}
	run.mu.Lock()
	run.report.SearchID = searchID
	run.mu.Unlock()

	err = o.client.SearchResults(ctx, searchID, o.cfg.SearchDeadline, func(found ta2.SolutionFound) error {
		if err := o.checkCurrent(run); err != nil {
			return err
		}
		if !run.session.RecordDiscovered(found.SolutionID) {
			return nil
		}
		run.mu.Lock()
		run.report.Discovered = append(run.report.Discovered, found.SolutionID)
		run.mu.Unlock()
		o.metrics.SolutionDiscovered()
		o.publish(ctx, run, events.SolutionDiscovered, map[string]interface{}{"solutionID": found.SolutionID})
		return nil
	})
	o.endSearch(ctx, searchID)

	discovered := len(run.session.SolutionIDs())
	switch {
	case err == nil:
	case errors.Is(err, ta2.ErrSearchTimeout) && discovered > 0:
		run.mu.Lock()
		run.report.SearchTimedOut = true
		run.mu.Unlock()
		o.logger.Warn(orchestratorModule, "Search deadline reached, continuing with discovered solutions", map[string]interface{}{
			"generation": run.Generation(),
			"search_id":  searchID,
			"discovered": discovered,
		})
	default:
		return o.stepErr(run, err)
	}

	o.logger.Info(orchestratorModule, "Search finished", map[string]interface{}{
		"generation": run.Generation(),
		"search_id":  searchID,
		"discovered": discovered,
	})
	return o.checkCurrent(run)
}

// endSearch is best effort and also runs for cancelled runs.
func (o *searchOrchestrator) endSearch(ctx context.Context, searchID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endSearchTimeout)
	defer cancel()
	if err := o.client.EndSearch(ctx, searchID); err != nil {
		o.logger.Warn(orchestratorModule, "EndSearchSolutions failed", map[string]interface{}{"search_id": searchID, "error": err.Error()})
	}
}

func (o *searchOrchestrator) score(ctx context.Context, run *Run) error {
	if err := o.transition(ctx, run, StateScoring); err != nil {
		return err
	}
	ids := run.session.SolutionIDs()
	if len(ids) == 0 {
		return nil
	}

	outcome, err := o.solutions.ScoreSolutions(ctx, run.session, ids, o.cfg.Metrics)
	if err != nil {
		return o.stepErr(run, err)
	}
	if err := o.checkCurrent(run); err != nil {
		return err
	}

	run.mu.Lock()
	run.report.ScoreFailures = errorStrings(outcome.Failures)
	run.mu.Unlock()
	if len(outcome.Scored) == 0 {
		return fmt.Errorf("%w: scoring %d solutions: %w", ErrAllFailed, len(ids), firstError(outcome.Failures))
	}
	return nil
}

func (o *searchOrchestrator) describe(ctx context.Context, run *Run) error {
	if err := o.transition(ctx, run, StateDescribing); err != nil {
		return err
	}
	ids := run.session.SolutionIDs()
	if len(ids) == 0 {
		return nil
	}

	outcome, err := o.solutions.DescribeSolutions(ctx, run.session, ids)
	if err != nil {
		return o.stepErr(run, err)
	}
	if err := o.checkCurrent(run); err != nil {
		return err
	}

	run.mu.Lock()
	run.report.DescribeFailures = errorStrings(outcome.Failures)
	run.mu.Unlock()
	if len(outcome.StepCounts) == 0 {
		return fmt.Errorf("%w: describing %d solutions: %w", ErrAllFailed, len(ids), firstError(outcome.Failures))
	}
	return nil
}

// firstError picks the failure of the smallest id so messages are stable.
func firstError(failures map[string]error) error {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return errors.New("no result")
	}
	sort.Strings(ids)
	return failures[ids[0]]
}

func (o *searchOrchestrator) finish(ctx context.Context, run *Run, err error) {
	run.mu.Lock()
	elapsed := time.Since(run.stepStarted)
	from := run.state
	if err != nil {
		run.state = StateFailed
		run.err = err
	}
	run.mu.Unlock()

	switch {
	case err == nil:
		o.metrics.ObserveRun(string(StateDone))
		o.logger.Info(orchestratorModule, "Run finished", map[string]interface{}{
			"generation": run.Generation(),
			"solutions":  len(run.session.SolutionIDs()),
		})
	case errors.Is(err, ErrSuperseded):
		o.metrics.ObserveRun("superseded")
		o.logger.Info(orchestratorModule, "Run superseded", map[string]interface{}{"generation": run.Generation(), "state": from})
		return
	default:
		o.metrics.ObserveStep(string(from), elapsed)
		o.metrics.ObserveRun(string(StateFailed))
		o.logger.Error(orchestratorModule, "Run failed", map[string]interface{}{
			"generation": run.Generation(),
			"state":      from,
			"error":      err,
		})
		o.publishState(ctx, run, StateFailed, err)
	}

	report := run.Report()
	data := map[string]interface{}{
		"state":          string(run.State()),
		"searchID":       report.SearchID,
		"discovered":     len(report.Discovered),
		"searchTimedOut": report.SearchTimedOut,
		"scoreFailed":    len(report.ScoreFailures),
		"describeFailed": len(report.DescribeFailures),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	o.publish(ctx, run, events.RunFinished, data)
}

func (o *searchOrchestrator) publishState(ctx context.Context, run *Run, state RunState, err error) {
	summary := run.session.Summary()
	data := map[string]interface{}{
		"state":           string(state),
		"searchID":        summary.SearchID,
		"connectionState": string(summary.ConnectionState),
		"solutionCount":   summary.SolutionCount,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	o.publish(ctx, run, events.StateChanged, data)
}

// publish drops events of superseded runs so the front end only ever sees the
// current session.
func (o *searchOrchestrator) publish(ctx context.Context, run *Run, eventType string, data map[string]interface{}) {
	if o.publisher == nil || !o.store.IsCurrent(run.session) {
		return
	}
	data["generation"] = run.Generation()
	if err := o.publisher.Publish(context.WithoutCancel(ctx), events.New(eventType, data)); err != nil {
		o.logger.Warn(orchestratorModule, "Failed to publish lifecycle event", map[string]interface{}{"type": eventType, "error": err.Error()})
	}
}
