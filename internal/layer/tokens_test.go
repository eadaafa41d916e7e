package layer

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message"
)

func TestTokenSource_Unique(t *testing.T) {
	s := NewTokenSource(nil)

	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		wg   sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.Acquire()
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[string(tok)] {
				t.Errorf("token %x handed out twice", []byte(tok))
			}
			seen[string(tok)] = true
		}()
	}
	wg.Wait()

	if got := s.InFlight(); got != n {
		t.Errorf("InFlight() = %d, want %d", got, n)
	}
}

func TestTokenSource_SkipsHeldTokens(t *testing.T) {
	seq := []message.Token{{1}, {1}, {2}}
	i := 0
	s := NewTokenSource(nil)
	s.generate = func() (message.Token, error) {
		tok := seq[i]
		i++
		return tok, nil
	}

	first, _ := s.Acquire()
	second, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("got duplicate token %x", []byte(second))
	}
	if !bytes.Equal(second, message.Token{2}) {
		t.Errorf("got %x, want 02", []byte(second))
	}

	s.Release(first)
	if got := s.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1", got)
	}
}

func TestTokenSource_Exhausted(t *testing.T) {
	s := NewTokenSource(nil)
	s.generate = func() (message.Token, error) { return message.Token{7}, nil }

	if _, err := s.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := s.Acquire(); !errors.Is(err, errTokenExhausted) {
		t.Errorf("got %v, want errTokenExhausted", err)
	}
}
