package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

func TestCallbackDispatcherPostsSendRequest(t *testing.T) {
	t.Parallel()

	var got callbackRequest
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	dispatcher, err := NewCallbackDispatcher(server.URL+"/", nil, 0, nil)
	if err != nil {
		t.Fatalf("NewCallbackDispatcher() error = %v", err)
	}

	msg := domain.MessageNotification{
		ID:      "6a1f6c7e-1111-4c3b-8b7e-5d0c4f3e2a10",
		To:      "081234567890",
		Message: textPtr("hi"),
		Media:   &domain.MediaRef{Kind: domain.MediaBySource, Value: "tickets/photo.jpg"},
		Robot:   2,
	}
	if err := dispatcher.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if gotPath != "/v1/whatsapp/6a1f6c7e-1111-4c3b-8b7e-5d0c4f3e2a10/send" {
		t.Fatalf("path = %s", gotPath)
	}
	if got.MobilePhone != "081234567890" || got.Text != "hi" || got.Media != "tickets/photo.jpg" || got.Robot != 2 {
		t.Fatalf("body = %+v", got)
	}
}

func TestCallbackDispatcherStatusHandling(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "delivered", status: http.StatusOK},
		{name: "already claimed", status: http.StatusConflict},
		{name: "client not ready", status: http.StatusServiceUnavailable},
		{name: "delivery failed and stored", status: http.StatusBadGateway},
		{name: "not found", status: http.StatusNotFound, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			t.Cleanup(server.Close)

			dispatcher, err := NewCallbackDispatcher(server.URL, nil, 0, nil)
			if err != nil {
				t.Fatalf("NewCallbackDispatcher() error = %v", err)
			}

			err = dispatcher.Dispatch(context.Background(), domain.MessageNotification{ID: "m1", To: "0812", Message: textPtr("hi")})
			if (err != nil) != tc.wantErr {
				t.Fatalf("Dispatch() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewCallbackDispatcherRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := NewCallbackDispatcher("not a url", nil, 0, nil); err == nil {
		t.Fatal("NewCallbackDispatcher() expected error")
	}
}
