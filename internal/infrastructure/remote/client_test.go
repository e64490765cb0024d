package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/auth"
	"fleetinspect/internal/ports"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, RequestTimeout: 2 * time.Second}, StaticToken("tok"), server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestClientClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusRequestTimeout, transient: true},
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusInternalServerError, transient: true},
		{status: http.StatusServiceUnavailable, transient: true},
		{status: http.StatusBadRequest, transient: false},
		{status: http.StatusNotFound, transient: false},
		{status: http.StatusConflict, transient: false},
		{status: http.StatusUnprocessableEntity, transient: false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))

			_, err := client.UploadPhoto(context.Background(), ports.PhotoUpload{ClientRef: "p-1"})
			if err == nil {
				t.Fatalf("UploadPhoto() expected error")
			}
			if errs.IsTransient(err) != tc.transient || errs.IsPermanent(err) == tc.transient {
				t.Fatalf("UploadPhoto() error = %v, transient want %v", err, tc.transient)
			}
			if !strings.Contains(err.Error(), "nope") {
				t.Fatalf("UploadPhoto() error = %v, want server message", err)
			}
		})
	}
}

func TestClientRejectedCredentialIsAuthError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"token expired"}`))
			}))

			_, err := client.CompleteInspection(context.Background(), "", ports.CompletionRequest{ClientRef: "c-1"})
			if !errs.IsAuth(err) {
				t.Fatalf("CompleteInspection() error = %v, want auth error", err)
			}
			if errs.IsPermanent(err) || errs.IsTransient(err) {
				t.Fatalf("CompleteInspection() error = %v, classified as a sync failure", err)
			}
			if errs.Kind(err) != "auth" {
				t.Fatalf("Kind() = %q, want auth", errs.Kind(err))
			}
		})
	}
}

func TestClientMissingCredentialIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	creds := credentialFunc(func(context.Context) (string, error) {
		return "", errors.New("no session")
	})
	client, err := NewClient(Config{BaseURL: server.URL, RequestTimeout: time.Second}, creds, server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := client.FetchAssignments(context.Background()); !errs.IsAuth(err) {
		t.Fatalf("FetchAssignments() error = %v, want auth error", err)
	}
}

type credentialFunc func(context.Context) (string, error)

func (f credentialFunc) Credential(ctx context.Context) (string, error) { return f(ctx) }

func TestClientNetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client, err := NewClient(Config{BaseURL: baseURL, RequestTimeout: time.Second}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.Ping(context.Background()); !errs.IsTransient(err) {
		t.Fatalf("Ping() error = %v, want transient", err)
	}
}

func TestClientTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	client, err := NewClient(Config{BaseURL: server.URL, RequestTimeout: 50 * time.Millisecond}, nil, server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := client.FetchAssignments(context.Background()); !errs.IsTransient(err) {
		t.Fatalf("FetchAssignments() error = %v, want transient", err)
	}
}

func TestClientCompleteRoutesAndAuthenticates(t *testing.T) {
	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		paths = append(paths, r.URL.Path)

		var req ports.CompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body error = %v", err)
		}
		_ = json.NewEncoder(w).Encode(ports.CompletionResponse{InspectionID: "srv-" + req.ClientRef, Estado: "REALIZADA"})
	}))

	out, err := client.CompleteInspection(context.Background(), "a-1", ports.CompletionRequest{ClientRef: "c-1"})
	if err != nil {
		t.Fatalf("CompleteInspection() error = %v", err)
	}
	if out.InspectionID != "srv-c-1" {
		t.Fatalf("CompleteInspection() = %+v", out)
	}
	if _, err := client.CompleteInspection(context.Background(), "", ports.CompletionRequest{ClientRef: "c-2"}); err != nil {
		t.Fatalf("CompleteInspection() adhoc error = %v", err)
	}

	want := []string{"/api/inspections/a-1/complete", "/api/inspections/complete"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}, nil, nil); !errs.IsValidation(err) {
		t.Fatalf("NewClient() error = %v, want validation", err)
	}
}

func TestSignerReusesTokenUntilNearExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	signer := &Signer{Secret: "s", Subject: "insp-1", TTL: time.Hour, now: func() time.Time { return now }}

	first, err := signer.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	now = now.Add(10 * time.Minute)
	second, err := signer.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if first != second {
		t.Fatalf("Credential() minted a new token too early")
	}

	now = now.Add(45 * time.Minute)
	third, err := signer.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if third == first {
		t.Fatalf("Credential() kept a token about to expire")
	}
	claims, err := auth.Parse("s", third)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "insp-1" || claims.Role != auth.RoleInspector {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestStaticTokenRequiresValue(t *testing.T) {
	if _, err := StaticToken(" ").Credential(context.Background()); err == nil {
		t.Fatalf("Credential() expected error for empty token")
	}
}

type flakyPinger struct {
	fail atomic.Bool
}

func (p *flakyPinger) Ping(context.Context) error {
	if p.fail.Load() {
		return errors.New("down")
	}
	return nil
}

func TestMonitorSignalsOnlineTransitions(t *testing.T) {
	pinger := &flakyPinger{}
	pinger.fail.Store(true)
	monitor := NewMonitor(pinger, time.Hour)
	ctx := context.Background()

	if monitor.Check(ctx) {
		t.Fatalf("Check() = true while down")
	}
	select {
	case <-monitor.Online():
		t.Fatalf("Online() signalled while down")
	default:
	}

	pinger.fail.Store(false)
	if !monitor.Check(ctx) {
		t.Fatalf("Check() = false while up")
	}
	select {
	case <-monitor.Online():
	default:
		t.Fatalf("Online() did not signal the transition")
	}

	monitor.Check(ctx)
	select {
	case <-monitor.Online():
		t.Fatalf("Online() signalled without a transition")
	default:
	}
	if status := monitor.Status(); !status.Online || status.LastSuccess == nil {
		t.Fatalf("Status() = %+v", status)
	}
}

func TestEventListenerDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(ports.Event{Type: ports.EventInspectionReviewed, InspectionID: "srv-1"})
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	listener, err := NewEventListener(server.URL, StaticToken("tok"))
	if err != nil {
		t.Fatalf("NewEventListener() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan ports.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- listener.Listen(ctx, func(event ports.Event) {
			select {
			case got <- event:
			default:
			}
		})
	}()

	select {
	case event := <-got:
		if event.Type != ports.EventInspectionReviewed || event.InspectionID != "srv-1" {
			t.Fatalf("event = %+v", event)
		}
	case <-ctx.Done():
		t.Fatalf("no event received")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
}
