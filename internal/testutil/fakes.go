package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/crewflow/internal/action"
	"github.com/roach88/crewflow/internal/model"
)

// ErrInjected is the default failure of a fake switched to fail.
var ErrInjected = errors.New("injected failure")

// Failure controls how a fake collaborator misbehaves.
type Failure struct {
	mu    sync.Mutex
	err   error
	block bool
}

// Fail makes subsequent calls return err (ErrInjected when nil).
func (f *Failure) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.err = err
	f.block = false
}

// Hang makes subsequent calls block until their context is done.
func (f *Failure) Hang() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = true
	f.err = nil
}

// Recover restores normal behaviour.
func (f *Failure) Recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = nil
	f.block = false
}

func (f *Failure) check(ctx context.Context) error {
	f.mu.Lock()
	err, block := f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// FakeMessenger records sent messages.
type FakeMessenger struct {
	Failure
	mu     sync.Mutex
	emails []action.Email
	sms    []action.SMS
	ids    *SequentialIDs
}

// NewFakeMessenger creates a messenger issuing receipts "msg-N".
func NewFakeMessenger() *FakeMessenger {
	return &FakeMessenger{ids: NewSequentialIDs("msg")}
}

func (m *FakeMessenger) SendEmail(ctx context.Context, msg action.Email) (action.Receipt, error) {
	if err := m.check(ctx); err != nil {
		return action.Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, msg)
	return action.Receipt{ID: m.ids.Generate()}, nil
}

func (m *FakeMessenger) SendSMS(ctx context.Context, msg action.SMS) (action.Receipt, error) {
	if err := m.check(ctx); err != nil {
		return action.Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sms = append(m.sms, msg)
	return action.Receipt{ID: m.ids.Generate()}, nil
}

// Emails returns a copy of the sent emails.
func (m *FakeMessenger) Emails() []action.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]action.Email(nil), m.emails...)
}

// SMS returns a copy of the sent text messages.
func (m *FakeMessenger) SMS() []action.SMS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]action.SMS(nil), m.sms...)
}

// FakeSigner records envelope requests.
type FakeSigner struct {
	Failure
	mu       sync.Mutex
	requests []action.EnvelopeRequest
	ids      *SequentialIDs
}

// NewFakeSigner creates a signer issuing envelopes "env-N".
func NewFakeSigner() *FakeSigner {
	return &FakeSigner{ids: NewSequentialIDs("env")}
}

func (s *FakeSigner) RequestEnvelope(ctx context.Context, req action.EnvelopeRequest) (action.Envelope, error) {
	if err := s.check(ctx); err != nil {
		return action.Envelope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	status := "created"
	if req.SendImmediately {
		status = "sent"
	}
	return action.Envelope{ID: s.ids.Generate(), Status: status}, nil
}

// Requests returns a copy of the accepted envelope requests.
func (s *FakeSigner) Requests() []action.EnvelopeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]action.EnvelopeRequest(nil), s.requests...)
}

// MemoryTasks is an in-memory TaskRepository.
type MemoryTasks struct {
	Failure
	mu    sync.Mutex
	tasks []model.Task
}

func (r *MemoryTasks) CreateTask(ctx context.Context, t model.Task) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

// Tasks returns a copy of the created tasks.
func (r *MemoryTasks) Tasks() []model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Task(nil), r.tasks...)
}

// MemoryFields is an in-memory FieldWriter.
type MemoryFields struct {
	Failure
	mu     sync.Mutex
	values map[string]any
}

func fieldKey(table model.EntityType, recordID, field string) string {
	return fmt.Sprintf("%s/%s.%s", table, recordID, field)
}

func (w *MemoryFields) WriteField(ctx context.Context, table model.EntityType, recordID, field string, value any) (any, error) {
	if err := w.check(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.values == nil {
		w.values = map[string]any{}
	}
	k := fieldKey(table, recordID, field)
	prev := w.values[k]
	w.values[k] = value
	return prev, nil
}

// Value returns the last value written to a field.
func (w *MemoryFields) Value(table model.EntityType, recordID, field string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.values[fieldKey(table, recordID, field)]
	return v, ok
}

// MemoryCommissions is an in-memory CommissionRepository enforcing one
// ACTIVE commission per (owner, type, source).
type MemoryCommissions struct {
	Failure
	mu          sync.Mutex
	commissions []model.Commission
}

func (r *MemoryCommissions) CreateCommission(ctx context.Context, c model.Commission) (bool, error) {
	if err := r.check(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.commissions {
		if existing.Status == model.CommissionActive &&
			existing.OwnerID == c.OwnerID &&
			existing.CommissionType == c.CommissionType &&
			existing.SourceType == c.SourceType &&
			existing.SourceID == c.SourceID {
			return false, nil
		}
	}
	r.commissions = append(r.commissions, c)
	return true, nil
}

// Commissions returns a copy of the stored commissions.
func (r *MemoryCommissions) Commissions() []model.Commission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Commission(nil), r.commissions...)
}

// MemoryGuard is an in-memory guard.Guard.
type MemoryGuard struct {
	Failure
	mu    sync.Mutex
	state map[string]string
}

func (g *MemoryGuard) ShouldProceed(ctx context.Context, key model.SemanticKey) (bool, error) {
	if err := g.check(ctx); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == nil {
		g.state = map[string]string{}
	}
	if _, taken := g.state[key.String()]; taken {
		return false, nil
	}
	g.state[key.String()] = "PENDING"
	return true, nil
}

func (g *MemoryGuard) Record(ctx context.Context, key model.SemanticKey) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == nil {
		g.state = map[string]string{}
	}
	g.state[key.String()] = "DONE"
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, key model.SemanticKey) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state[key.String()] == "PENDING" {
		delete(g.state, key.String())
	}
	return nil
}

// State returns "PENDING", "DONE" or "" for a key.
func (g *MemoryGuard) State(key model.SemanticKey) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state[key.String()]
}
