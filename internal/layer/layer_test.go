package layer

import (
	"context"
	"errors"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/model"
)

func TestLayerProcess_NilMessage(t *testing.T) {
	spy := &spyStage{inner: stubStage{name: "a"}}
	l := New(spy, discardLogger())

	_, err := l.Process(context.Background(), nil)
	if !errors.Is(err, ErrNilMessage) {
		t.Fatalf("got err %v, want ErrNilMessage", err)
	}
	if n := spy.attempts.Load(); n != 0 {
		t.Errorf("stage attempted %d times, want 0", n)
	}
}

func TestLayerProcess_ShortCircuit(t *testing.T) {
	want := &model.Response{Code: codes.Content}
	lower := &spyStage{inner: stubStage{name: "lower", resp: want}}
	upper := &spyStage{inner: stubStage{name: "upper", resp: &model.Response{Code: codes.NotFound}}}

	l := New(lower, discardLogger())
	if err := l.SetUpperLayer(New(upper, discardLogger())); err != nil {
		t.Fatalf("SetUpperLayer: %v", err)
	}

	got, err := l.Process(context.Background(), newMessage(model.MethodGet, "/a"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want lower layer's response", got)
	}
	if n := upper.attempts.Load(); n != 0 {
		t.Errorf("upper attempted %d times, want 0", n)
	}
	if n := lower.completes.Load(); n != 0 {
		t.Errorf("Complete called %d times after short circuit, want 0", n)
	}
}

func TestLayerProcess_Delegates(t *testing.T) {
	want := &model.Response{Code: codes.Content}
	lower := &spyStage{inner: stubStage{name: "lower"}}
	upper := &spyStage{inner: stubStage{name: "upper", resp: want}}

	l := New(lower, discardLogger())
	if err := l.SetUpperLayer(New(upper, discardLogger())); err != nil {
		t.Fatalf("SetUpperLayer: %v", err)
	}

	got, err := l.Process(context.Background(), newMessage(model.MethodGet, "/a"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != want {
		t.Errorf("upper response was not returned unmodified")
	}
	if n := lower.completes.Load(); n != 1 {
		t.Errorf("Complete called %d times, want 1", n)
	}
}

func TestLayerProcess_StageError(t *testing.T) {
	boom := errors.New("boom")
	upper := &spyStage{inner: stubStage{name: "upper"}}
	l := New(stubStage{name: "lower", err: boom}, discardLogger())
	if err := l.SetUpperLayer(New(upper, discardLogger())); err != nil {
		t.Fatalf("SetUpperLayer: %v", err)
	}

	_, err := l.Process(context.Background(), newMessage(model.MethodGet, "/a"))
	if !errors.Is(err, boom) {
		t.Errorf("got err %v, want %v", err, boom)
	}
	if n := upper.attempts.Load(); n != 0 {
		t.Errorf("upper attempted %d times, want 0", n)
	}
}

func TestLayerProcess_NoUpperLayer(t *testing.T) {
	spy := &spyStage{inner: stubStage{name: "last"}}
	l := New(spy, discardLogger())

	resp, err := l.Process(context.Background(), newMessage(model.MethodGet, "/a"))
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("got err %v, want ErrNoResponse", err)
	}
	if resp != nil {
		t.Errorf("got response %+v, want nil", resp)
	}
	if n := spy.completes.Load(); n != 1 {
		t.Errorf("Complete called %d times, want 1", n)
	}
}

func TestSetUpperLayer(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		l := New(stubStage{name: "a"}, discardLogger())
		if err := l.SetUpperLayer(nil); !errors.Is(err, ErrNilLayer) {
			t.Errorf("got %v, want ErrNilLayer", err)
		}
		if l.HasUpperLayer() {
			t.Error("HasUpperLayer() = true after failed link")
		}
	})

	t.Run("twice", func(t *testing.T) {
		l := New(stubStage{name: "a"}, discardLogger())
		if err := l.SetUpperLayer(New(stubStage{name: "b"}, discardLogger())); err != nil {
			t.Fatalf("first link: %v", err)
		}
		if !l.HasUpperLayer() {
			t.Error("HasUpperLayer() = false after link")
		}
		if err := l.SetUpperLayer(New(stubStage{name: "c"}, discardLogger())); !errors.Is(err, ErrUpperLayerSet) {
			t.Errorf("got %v, want ErrUpperLayerSet", err)
		}
	})

	t.Run("after use", func(t *testing.T) {
		l := New(stubStage{name: "a", resp: &model.Response{Code: codes.Content}}, discardLogger())
		if _, err := l.Process(context.Background(), newMessage(model.MethodGet, "/")); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if err := l.SetUpperLayer(New(stubStage{name: "b"}, discardLogger())); !errors.Is(err, ErrChainInUse) {
			t.Errorf("got %v, want ErrChainInUse", err)
		}
	})
}
