package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roach88/crewflow/internal/action"
	"github.com/roach88/crewflow/internal/audit"
	"github.com/roach88/crewflow/internal/compiler"
	"github.com/roach88/crewflow/internal/engine"
	"github.com/roach88/crewflow/internal/guard"
	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/registry"
	"github.com/roach88/crewflow/internal/store"
	"github.com/roach88/crewflow/internal/testutil"
)

// guardLease bounds a reservation left behind by a crashed action.
const guardLease = 10 * time.Minute

// Run executes a scenario against a fresh in-memory store and returns
// its result. The error is reserved for setup problems (workflows that do
// not load, a store that does not open); failing steps and assertions are
// reported in Result.
//
// Execution flow:
//  1. Load the scenario's CUE workflows and save them to the store
//  2. Wire the engine to fake messaging and e-signature services
//  3. Run each step: recover, advance the clock, evaluate, sweep
//  4. Collect effects and check assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	loaded, errs := compiler.LoadFiles(scenario.Workflows, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load workflows: %w", errors.Join(errs...))
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	r, err := newRunner(st)
	if err != nil {
		return nil, err
	}
	for _, wf := range loaded.Workflows {
		if _, err := st.SaveDefinition(ctx, wf.Definition); err != nil {
			return nil, fmt.Errorf("save workflow %s: %w", wf.Definition.ID, err)
		}
	}
	for _, f := range scenario.Failures {
		r.fail(f)
	}

	result := &Result{Scenario: scenario.Name, Pass: true}
	for i, step := range scenario.Steps {
		sr := r.runStep(ctx, i, step)
		if sr.Err != "" {
			result.AddError("steps[%d]: %s", i, sr.Err)
		}
		result.Steps = append(result.Steps, sr)
	}

	if err := r.collect(ctx, scenario, result); err != nil {
		return nil, err
	}
	checkAssertions(scenario, result)
	return result, nil
}

// runner holds the wiring of one scenario run.
type runner struct {
	store     *store.Store
	clock     *testutil.FakeClock
	messenger *testutil.FakeMessenger
	signer    *testutil.FakeSigner
	webhooks  *recordingDoer
	engine    *engine.Engine
	sweeper   *engine.Sweeper
}

func newRunner(st *store.Store) (*runner, error) {
	r := &runner{
		store:     st,
		clock:     testutil.NewFakeClock(time.Time{}),
		messenger: testutil.NewFakeMessenger(),
		signer:    testutil.NewFakeSigner(),
		webhooks:  &recordingDoer{},
	}
	st.SetClock(r.clock.Now)

	handlers, err := action.NewDefaultRegistry(action.Deps{
		Messenger:   r.messenger,
		Signer:      r.signer,
		Tasks:       st,
		Fields:      st,
		Commissions: st,
		HTTP:        r.webhooks,
		Guard:       guard.NewStoreGuard(st, guardLease),
		IDs:         testutil.NewSequentialIDs("rec"),
	})
	if err != nil {
		return nil, err
	}

	reg := registry.New(st, registry.Options{Now: r.clock.Now})
	r.engine = engine.New(reg, handlers,
		engine.WithAudit(audit.NewStoreSink(st)),
		engine.WithPending(st),
		engine.WithIDs(testutil.NewSequentialIDs("eval")),
		engine.WithClock(r.clock.Now),
	)
	r.sweeper = engine.NewSweeper(r.engine, st, engine.SweepOptions{})
	return r, nil
}

func (r *runner) fail(collaborator string) {
	switch collaborator {
	case FailMessenger:
		r.messenger.Fail(nil)
	case FailSigner:
		r.signer.Fail(nil)
	}
}

func (r *runner) recover() {
	r.messenger.Recover()
	r.signer.Recover()
}

func (r *runner) runStep(ctx context.Context, index int, step Step) StepResult {
	sr := StepResult{Index: index, Step: step}

	if step.Recover {
		r.recover()
	}
	if step.Advance != "" {
		d, _ := time.ParseDuration(step.Advance) // checked by validateStep
		r.clock.Advance(d)
	}

	if step.HasTransition() {
		results, err := r.engine.EvaluateTransition(ctx,
			model.EntityType(step.Object), model.TriggerEvent(step.Event), step.transition())
		if err != nil {
			sr.Err = err.Error()
			return sr
		}
		sr.Results = results
	}

	if step.Sweep {
		report, err := r.sweeper.SweepOnce(ctx)
		if err != nil {
			sr.Err = err.Error()
			return sr
		}
		sr.Sweep = &report
	}
	return sr
}

// transition builds the engine input of a step. Old stays nil when the
// step gives no prior values.
func (s Step) transition() model.EntityTransition {
	t := model.EntityTransition{
		EntityID:  s.EntityID,
		NewValues: model.Record(s.New),
		ActorID:   s.ActorID,
	}
	if s.Old != nil {
		t.OldValues = model.Record(s.Old)
	}
	if t.NewValues == nil {
		t.NewValues = model.Record{}
	}
	if len(s.Related) > 0 {
		t.Related = make(map[string]model.Record, len(s.Related))
		for name, rec := range s.Related {
			t.Related[name] = model.Record(rec)
		}
	}
	return t
}

// collect copies the effects of the run into the result. Tasks and
// commissions are read back from the store for every entity the
// scenario touched.
func (r *runner) collect(ctx context.Context, scenario *Scenario, result *Result) error {
	result.Emails = r.messenger.Emails()
	result.SMS = r.messenger.SMS()
	result.Agreements = r.signer.Requests()
	result.Webhooks = r.webhooks.count()

	seen := map[entityRef]bool{}
	for _, step := range scenario.Steps {
		if !step.HasTransition() {
			continue
		}
		ref, err := step.entity()
		if err != nil || seen[ref] {
			continue
		}
		seen[ref] = true

		tasks, err := r.store.ListTasks(ctx, ref.object, ref.id)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		result.Tasks = append(result.Tasks, tasks...)

		commissions, err := r.store.ListCommissions(ctx, ref.object, ref.id)
		if err != nil {
			return fmt.Errorf("list commissions: %w", err)
		}
		result.Commissions = append(result.Commissions, commissions...)
	}
	return nil
}

type entityRef struct {
	object model.EntityType
	id     string
}

func (s Step) entity() (entityRef, error) {
	object, err := model.ParseEntityType(s.Object)
	if err != nil {
		return entityRef{}, err
	}
	return entityRef{object: object, id: s.EntityID}, nil
}

// recordingDoer answers every webhook with 200 OK.
type recordingDoer struct {
	mu sync.Mutex
	n  int
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
		req.Body.Close()
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

func (d *recordingDoer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}
