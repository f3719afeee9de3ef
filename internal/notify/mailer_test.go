package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMailerValidatesConfig(t *testing.T) {
	for name, input := range map[string]struct{ url, key string }{
		"plain http": {"http://mail.example.com/send", "key"},
		"no host":    {"https://", "key"},
		"no key":     {"https://mail.example.com/send", "   "},
	} {
		if _, err := NewMailer(input.url, input.key, ""); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}

	mailer, err := NewMailer("https://mail.example.com/send", "key", "")
	if err != nil {
		t.Fatalf("NewMailer: %v", err)
	}
	if mailer.from == "" {
		t.Fatalf("expected a default from address")
	}
}

func TestSendCodePostsPayload(t *testing.T) {
	var got map[string]string
	var authorization string

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mailer, err := NewMailer(server.URL, "secret-key", "portaria@condo.test")
	if err != nil {
		t.Fatalf("NewMailer: %v", err)
	}
	mailer.httpClient = server.Client()

	if err := mailer.SendCode(context.Background(), "ana@condo.test", "123456"); err != nil {
		t.Fatalf("SendCode: %v", err)
	}

	if authorization != "Bearer secret-key" {
		t.Fatalf("authorization = %q, want bearer key", authorization)
	}
	if got["to"] != "ana@condo.test" || got["from"] != "portaria@condo.test" {
		t.Fatalf("payload = %v, want to/from set", got)
	}
	if !strings.Contains(got["text"], "123456") {
		t.Fatalf("mail body %q does not carry the code", got["text"])
	}
}

func TestSendCodeSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"recipient rejected"}}`))
	}))
	defer server.Close()

	mailer, err := NewMailer(server.URL, "secret-key", "")
	if err != nil {
		t.Fatalf("NewMailer: %v", err)
	}
	mailer.httpClient = server.Client()

	err = mailer.SendCode(context.Background(), "ana@condo.test", "123456")
	if err == nil || !strings.Contains(err.Error(), "recipient rejected") {
		t.Fatalf("expected the api message in the error, got %v", err)
	}
}
