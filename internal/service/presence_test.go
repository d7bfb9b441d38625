package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psds-microservice/presence-service/internal/service"
)

func TestBroadcastGoesOnlyToAdmins(t *testing.T) {
	reg := service.NewRegistry(newTestLogger())
	b := service.NewBroadcaster(reg, newTestLogger())

	adminTr := &fakeTransport{}
	userTr := &fakeTransport{}
	bindConn(reg, adminTr, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	bindConn(reg, userTr, testUser("u1", "user@example.com", service.RoleUser), "s2")

	b.BroadcastToAdmins()

	if got := len(adminTr.sentEvents(service.EventOnlineUsersData)); got != 1 {
		t.Errorf("expected 1 broadcast to admin, got %d", got)
	}
	if got := len(userTr.sentEvents(service.EventOnlineUsersData)); got != 0 {
		t.Errorf("expected no broadcast to plain user, got %d", got)
	}
}

func TestBroadcastIsolatesFailedRecipients(t *testing.T) {
	reg := service.NewRegistry(newTestLogger())
	b := service.NewBroadcaster(reg, newTestLogger())

	deadTr := &fakeTransport{sendErr: errors.New("send buffer full")}
	liveTr := &fakeTransport{}
	bindConn(reg, deadTr, testUser("a1", "a1@example.com", service.RoleAdmin), "s1")
	bindConn(reg, liveTr, testUser("a2", "a2@example.com", service.RoleAdmin), "s2")

	b.BroadcastToAdmins()

	if got := len(liveTr.sentEvents(service.EventOnlineUsersData)); got != 1 {
		t.Errorf("failure of one admin blocked delivery to another: got %d", got)
	}
}

func TestBroadcastPayloadCarriesSnapshot(t *testing.T) {
	reg := service.NewRegistry(newTestLogger())
	b := service.NewBroadcaster(reg, newTestLogger())

	adminTr := &fakeTransport{}
	adminID := bindConn(reg, adminTr, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")
	userID := bindConn(reg, &fakeTransport{}, testUser("u1", "user@example.com", service.RoleUser), "s2")
	reg.SetRoute(userID, "/billing")

	if err := b.SendTo(adminID); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	sent := adminTr.sentEvents(service.EventOnlineUsersData)
	if len(sent) != 1 {
		t.Fatalf("expected 1 onlineUsersData event, got %d", len(sent))
	}
	payload, ok := sent[0].Data.(service.OnlineUsersData)
	if !ok {
		t.Fatalf("unexpected payload type %T", sent[0].Data)
	}
	if len(payload.Users) != 2 {
		t.Fatalf("expected 2 online users, got %d", len(payload.Users))
	}
	var foundRoute bool
	for _, e := range payload.Users {
		if e.UserID == "u1" && e.RoutePath == "/billing" {
			foundRoute = true
		}
	}
	if !foundRoute {
		t.Error("snapshot payload missing route for online user")
	}
}

func TestBroadcasterRunReactsToRegistryChanges(t *testing.T) {
	reg := service.NewRegistry(newTestLogger())
	b := service.NewBroadcaster(reg, newTestLogger())

	adminTr := &fakeTransport{}
	bindConn(reg, adminTr, testUser("a1", "admin@example.com", service.RoleAdmin), "s1")

	// Drain the signals accumulated during setup.
	for {
		select {
		case <-reg.Changed():
			continue
		default:
		}
		break
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	userID := bindConn(reg, &fakeTransport{}, testUser("u1", "user@example.com", service.RoleUser), "s2")
	reg.SetRoute(userID, "/dashboard")

	deadline := time.After(2 * time.Second)
	for {
		if len(adminTr.sentEvents(service.EventOnlineUsersData)) > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("no broadcast observed after registry change")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
