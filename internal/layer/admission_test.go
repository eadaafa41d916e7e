package layer

import (
	"context"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/metrics"
	"coap-gateway/internal/model"
)

func TestAdmission_RejectsOverLimit(t *testing.T) {
	a := NewAdmission(AdmissionConfig{MaxInFlight: 2}, discardLogger(), metrics.New())
	ctx := context.Background()
	msg := newMessage(model.MethodGet, "/a")

	for i := range 2 {
		if resp, err := a.Attempt(ctx, msg); resp != nil || err != nil {
			t.Fatalf("attempt %d rejected: %+v, %v", i, resp, err)
		}
	}

	resp, err := a.Attempt(ctx, msg)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if resp == nil {
		t.Fatal("third request admitted, want rejection")
	}
	if resp.Code != codes.ServiceUnavailable {
		t.Errorf("code = %v, want 5.03", resp.Code)
	}
	if resp.Source != model.SourceAdmission {
		t.Errorf("source = %q, want admission", resp.Source)
	}
	if resp.Request != msg {
		t.Error("rejection does not reference the request")
	}
	if got := a.InFlight(); got != 2 {
		t.Errorf("InFlight() = %d, want 2", got)
	}

	a.Complete(ctx, msg, nil, nil)
	if resp, _ := a.Attempt(ctx, msg); resp != nil {
		t.Error("request rejected after a slot was released")
	}
}

func TestAdmission_RateLimit(t *testing.T) {
	a := NewAdmission(AdmissionConfig{MaxInFlight: 100, RequestsPerSecond: 1, Burst: 1}, discardLogger(), nil)
	ctx := context.Background()
	msg := newMessage(model.MethodGet, "/a")

	if resp, _ := a.Attempt(ctx, msg); resp != nil {
		t.Fatal("first request rejected")
	}
	resp, _ := a.Attempt(ctx, msg)
	if resp == nil || resp.Code != codes.ServiceUnavailable {
		t.Fatalf("got %+v, want 5.03 from rate limit", resp)
	}
	if got := a.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d after rate rejection, want 1", got)
	}
}

func TestAdmission_Defaults(t *testing.T) {
	a := NewAdmission(AdmissionConfig{}, discardLogger(), nil)
	if got := a.Limit(); got != DefaultMaxInFlight {
		t.Errorf("Limit() = %d, want %d", got, DefaultMaxInFlight)
	}
}
