package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/psds-microservice/presence-service/internal/errs"
	"github.com/psds-microservice/presence-service/internal/service"
)

func newRemoteFixture(timeout time.Duration) (*service.Registry, *fakeAudit, *service.RemoteControl) {
	reg := service.NewRegistry(newTestLogger())
	audit := &fakeAudit{}
	rc := service.NewRemoteControl(reg, audit, timeout, newTestLogger())
	return reg, audit, rc
}

func navigatePayload(targetConnID, url string, newTab bool) []byte {
	return []byte(fmt.Sprintf(`{"connectionId":%q,"url":%q,"openNewTab":%t}`, targetConnID, url, newTab))
}

func connPayload(targetConnID string) []byte {
	return []byte(fmt.Sprintf(`{"connectionId":%q}`, targetConnID))
}

func TestNavigateFromNonAdminIsDropped(t *testing.T) {
	reg, audit, rc := newRemoteFixture(time.Second)
	userTr := &fakeTransport{}
	callerID := bindConn(reg, userTr, testUser("u1", "user@example.com", service.RoleUser), "s1")
	targetTr := &fakeTransport{}
	targetID := bindConn(reg, targetTr, testUser("u2", "target@example.com", service.RoleUser), "s2")

	reply := rc.NavigateTab(context.Background(), callerID, navigatePayload(targetID, "/x", false))
	if reply != nil {
		t.Errorf("expected dropped call (nil reply), got %+v", reply)
	}
	if targetTr.callCount() != 0 {
		t.Error("non-admin call reached the target transport")
	}
	if len(audit.all()) != 0 {
		t.Error("protocol violation was audited")
	}
}

func TestNavigateRejectsMalformedPayload(t *testing.T) {
	reg, audit, rc := newRemoteFixture(time.Second)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")

	cases := [][]byte{
		[]byte(`{}`),
		[]byte(`{"connectionId":""}`),
		[]byte(`{"connectionId":"c1"}`),                              // missing url
		[]byte(`{"connectionId":"c1","url":""}`),                     // empty url
		[]byte(`{"connectionId":"c1","url":"/x","openNewTab":"yes"}`), // wrong type
		[]byte(`not json`),
	}
	for _, raw := range cases {
		reply := rc.NavigateTab(context.Background(), callerID, raw)
		if reply == nil {
			t.Fatalf("payload %s: expected reply, got drop", raw)
		}
		if reply.Success || reply.Error != service.ReplyErrInvalidData {
			t.Errorf("payload %s: expected invalid-data, got %+v", raw, reply)
		}
	}
	if len(audit.all()) != 0 {
		t.Error("malformed payloads were audited")
	}
}

func TestRemoteCallAgainstOfflineTarget(t *testing.T) {
	reg, audit, rc := newRemoteFixture(time.Second)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")

	reply := rc.ReloadTab(context.Background(), callerID, connPayload("no-such-conn"))
	if reply == nil {
		t.Fatal("expected reply for offline target")
	}
	if reply.Success || reply.Error != service.ReplyErrNotFound {
		t.Errorf("expected not-found, got %+v", reply)
	}
	if len(audit.all()) != 0 {
		t.Error("offline target was audited")
	}
}

func TestNavigateSuccess(t *testing.T) {
	reg, audit, rc := newRemoteFixture(time.Second)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	targetTr := &fakeTransport{}
	targetID := bindConn(reg, targetTr, testUser("u1", "target@example.com", service.RoleUser), "s2")

	reply := rc.NavigateTab(context.Background(), callerID, navigatePayload(targetID, "/dashboard", false))
	if reply == nil || !reply.Success {
		t.Fatalf("expected outer success, got %+v", reply)
	}
	if reply.Data == nil || !reply.Data.Success {
		t.Fatalf("expected inner success, got %+v", reply.Data)
	}

	if targetTr.callCount() != 1 {
		t.Fatalf("expected exactly one call to target, got %d", targetTr.callCount())
	}
	payload, ok := targetTr.calls[0].Data.(service.NavigatePayload)
	if !ok {
		t.Fatalf("unexpected call payload type %T", targetTr.calls[0].Data)
	}
	if payload.URL != "/dashboard" || payload.OpenNewTab || payload.ConnectionID != targetID {
		t.Errorf("unexpected navigate payload: %+v", payload)
	}

	entries := audit.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Category != "admin" || e.Type != "navigate" || e.Status != "success" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if e.UserID != "a1" {
		t.Errorf("audit attributed to %q, want caller a1", e.UserID)
	}
	if !strings.Contains(e.Metadata, "target@example.com") || !strings.Contains(e.Metadata, "/dashboard") {
		t.Errorf("audit metadata not forensic enough: %q", e.Metadata)
	}
}

func TestNavigateTargetsOnlyTheNamedConnection(t *testing.T) {
	reg, _, rc := newRemoteFixture(time.Second)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")

	u := testUser("u1", "user@example.com", service.RoleUser)
	tr1 := &fakeTransport{}
	tr2 := &fakeTransport{}
	conn1 := bindConn(reg, tr1, u, "s2")
	bindConn(reg, tr2, u, "s2")

	reply := rc.NavigateTab(context.Background(), callerID, navigatePayload(conn1, "/x", true))
	if reply == nil || !reply.Success {
		t.Fatalf("expected success, got %+v", reply)
	}
	if tr1.callCount() != 1 {
		t.Errorf("expected target connection to receive the call, got %d", tr1.callCount())
	}
	if tr2.callCount() != 0 {
		t.Error("sibling connection of the same user received the call")
	}
}

func TestRemoteCallApplicationFailure(t *testing.T) {
	reg, audit, rc := newRemoteFixture(time.Second)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	targetTr := &fakeTransport{
		callFn: func(context.Context, string, any) (*service.AppResult, error) {
			return &service.AppResult{Success: false, Error: "popup blocked"}, nil
		},
	}
	targetID := bindConn(reg, targetTr, testUser("u1", "target@example.com", service.RoleUser), "s2")

	reply := rc.NavigateTab(context.Background(), callerID, navigatePayload(targetID, "/x", true))
	if reply == nil || !reply.Success {
		t.Fatalf("application failure must keep the outer layer successful, got %+v", reply)
	}
	if reply.Data == nil || reply.Data.Success || reply.Data.Error != "popup blocked" {
		t.Errorf("expected inner failure with reason, got %+v", reply.Data)
	}

	entries := audit.all()
	if len(entries) != 1 || entries[0].Status != "failed" || entries[0].Error != "popup blocked" {
		t.Errorf("expected failed audit with reason, got %+v", entries)
	}
}

func TestRemoteCallAckTimeout(t *testing.T) {
	reg, audit, rc := newRemoteFixture(50 * time.Millisecond)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	targetTr := &fakeTransport{callFn: timeoutCall}
	targetID := bindConn(reg, targetTr, testUser("u1", "target@example.com", service.RoleUser), "s2")

	start := time.Now()
	reply := rc.ReloadTab(context.Background(), callerID, connPayload(targetID))
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout did not bound the wait")
	}
	if reply == nil || reply.Success {
		t.Fatalf("expected outer failure on timeout, got %+v", reply)
	}
	if reply.Error != errs.ErrAckTimeout.Error() {
		t.Errorf("expected ack timeout reason, got %q", reply.Error)
	}

	entries := audit.all()
	if len(entries) != 1 || entries[0].Status != "failed" {
		t.Fatalf("expected failed audit entry, got %+v", entries)
	}
	if entries[0].Type != "reload" {
		t.Errorf("expected reload audit type, got %q", entries[0].Type)
	}
}

func TestCloseTabCarriesAdminUserID(t *testing.T) {
	reg, _, rc := newRemoteFixture(time.Second)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	targetTr := &fakeTransport{}
	targetID := bindConn(reg, targetTr, testUser("u1", "target@example.com", service.RoleUser), "s2")

	reply := rc.CloseTab(context.Background(), callerID, connPayload(targetID))
	if reply == nil || !reply.Success {
		t.Fatalf("expected success, got %+v", reply)
	}
	payload, ok := targetTr.calls[0].Data.(service.AdminActionPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", targetTr.calls[0].Data)
	}
	if payload.AdminUserID != "a1" {
		t.Errorf("expected caller attribution in payload, got %+v", payload)
	}
}

func TestAuditFailureDoesNotBlockReply(t *testing.T) {
	reg := service.NewRegistry(newTestLogger())
	audit := &fakeAudit{err: fmt.Errorf("sink down")}
	rc := service.NewRemoteControl(reg, audit, time.Second, newTestLogger())

	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	targetID := bindConn(reg, &fakeTransport{}, testUser("u1", "target@example.com", service.RoleUser), "s2")

	reply := rc.ReloadTab(context.Background(), callerID, connPayload(targetID))
	if reply == nil || !reply.Success {
		t.Errorf("audit sink failure withheld the caller's reply: %+v", reply)
	}
}

func TestRepeatedNavigationIsIdempotent(t *testing.T) {
	reg, _, rc := newRemoteFixture(time.Second)
	callerID := bindConn(reg, &fakeTransport{}, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	targetTr := &fakeTransport{}
	targetID := bindConn(reg, targetTr, testUser("u1", "target@example.com", service.RoleUser), "s2")

	for i := 0; i < 3; i++ {
		reply := rc.NavigateTab(context.Background(), callerID, navigatePayload(targetID, "/same", false))
		if reply == nil || !reply.Success {
			t.Fatalf("iteration %d: expected success, got %+v", i, reply)
		}
	}
	if targetTr.callCount() != 3 {
		t.Errorf("expected 3 independent calls, got %d", targetTr.callCount())
	}
	if reg.Len() != 2 {
		t.Errorf("repeated navigation corrupted registry state: %d conns", reg.Len())
	}
}
