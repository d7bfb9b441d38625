package service_test

import (
	"context"
	"sync"

	"github.com/psds-microservice/presence-service/internal/errs"
	"github.com/psds-microservice/presence-service/internal/model"
	"github.com/psds-microservice/presence-service/internal/service"
	"go.uber.org/zap"
)

func newTestLogger() *zap.Logger {
	return zap.NewNop()
}

type sentEvent struct {
	Event string
	Data  any
}

// fakeTransport is a scripted Transport: it records sends and answers calls
// through callFn (ack, app failure, timeout, drop).
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentEvent
	sendErr error
	callFn  func(ctx context.Context, event string, data any) (*service.AppResult, error)
	calls   []sentEvent
	closed  bool
}

func (f *fakeTransport) Send(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEvent{Event: event, Data: data})
	return nil
}

func (f *fakeTransport) Ack(id uint64, data any) error {
	return f.Send(service.EventAck, data)
}

func (f *fakeTransport) Call(ctx context.Context, event string, data any) (*service.AppResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sentEvent{Event: event, Data: data})
	fn := f.callFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, event, data)
	}
	return &service.AppResult{Success: true}, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentEvents(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, s := range f.sent {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// timeoutCall scripts a target that never acknowledges within the window.
func timeoutCall(ctx context.Context, _ string, _ any) (*service.AppResult, error) {
	<-ctx.Done()
	return nil, errs.ErrAckTimeout
}

type fakeVerifier struct {
	ident *service.SessionIdentity
	err   error
}

func (f *fakeVerifier) VerifySession(context.Context, service.Credential) (*service.SessionIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ident, nil
}

type fakeDirectory struct {
	mu        sync.Mutex
	users     map[string]*model.User
	calls     int
	lookupErr error
}

func newFakeDirectory(users ...*model.User) *fakeDirectory {
	d := &fakeDirectory{users: make(map[string]*model.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (f *fakeDirectory) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, errs.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeDirectory) setLookupErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupErr = err
}

func (f *fakeDirectory) setRole(id, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.Role = role
	}
}

func (f *fakeDirectory) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []service.AuditEntry
	err     error
}

func (f *fakeAudit) Record(_ context.Context, e service.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) all() []service.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.AuditEntry(nil), f.entries...)
}

func testUser(id, email, role string) *model.User {
	return &model.User{
		ID:        id,
		Email:     email,
		Username:  email,
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
	}
}

// bindConn opens a connection on t and binds it to user u, returning the id.
func bindConn(reg *service.Registry, t service.Transport, u *model.User, sessionID string) string {
	connID := reg.Open(t, service.Credential{}, service.RequestDetails{})
	_ = reg.BindUser(connID, u.ID, sessionID, model.ProfileFromUser(u))
	if service.IsElevated(u.Role) {
		_ = reg.BindAdmin(connID)
	}
	return connID
}
