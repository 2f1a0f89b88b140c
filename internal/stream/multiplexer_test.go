package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMultiplexer_OrderPreserved(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(16)
	for i := 0; i < 5; i++ {
		if err := m.Push(Frame{Kind: KindText, Text: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f, err := m.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		want := fmt.Sprintf("msg-%d", i)
		if f.Text != want {
			t.Errorf("frame %d = %q, want %q", i, f.Text, want)
		}
	}
}

func TestMultiplexer_MixedKindsInterleaved(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(16)
	_ = m.Push(Frame{Kind: KindAudio, Audio: []float32{0.1}})
	_ = m.Push(Frame{Kind: KindText, Text: "hola"})
	_ = m.Push(Frame{Kind: KindAudio, Audio: []float32{0.2}})

	ctx := context.Background()
	kinds := []FrameKind{KindAudio, KindText, KindAudio}
	for i, want := range kinds {
		f, err := m.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if f.Kind != want {
			t.Errorf("frame %d kind = %v, want %v", i, f.Kind, want)
		}
	}
}

func TestMultiplexer_PushNeverBlocks(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			_ = m.Push(Frame{Kind: KindText, Text: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked with no consumer")
	}
}

func TestMultiplexer_DirectHandoff(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(4)
	got := make(chan Frame, 1)
	go func() {
		f, err := m.Next(context.Background())
		if err != nil {
			t.Errorf("Next: %v", err)
			return
		}
		got <- f
	}()

	// Let the consumer park before pushing.
	time.Sleep(20 * time.Millisecond)
	if err := m.Push(Frame{Kind: KindText, Text: "direct"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case f := <-got:
		if f.Text != "direct" {
			t.Errorf("frame = %q", f.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("parked consumer never received the frame")
	}
}

func TestMultiplexer_Overflow(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(2)
	_ = m.Push(Frame{Kind: KindText, Text: "a"})
	_ = m.Push(Frame{Kind: KindText, Text: "b"})

	if err := m.Push(Frame{Kind: KindText, Text: "c"}); !errors.Is(err, ErrStreamOverflow) {
		t.Fatalf("Push = %v, want ErrStreamOverflow", err)
	}

	// Poisoned: both sides fail from here on.
	if err := m.Push(Frame{Kind: KindText, Text: "d"}); !errors.Is(err, ErrStreamOverflow) {
		t.Errorf("Push after overflow = %v, want ErrStreamOverflow", err)
	}
	if _, err := m.Next(context.Background()); !errors.Is(err, ErrStreamOverflow) {
		t.Errorf("Next after overflow = %v, want ErrStreamOverflow", err)
	}
}

func TestMultiplexer_EndDrainsThenEnds(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(8)
	_ = m.Push(Frame{Kind: KindText, Text: "last"})
	m.End()

	if err := m.Push(Frame{Kind: KindText, Text: "late"}); !errors.Is(err, ErrStreamEnded) {
		t.Errorf("Push after End = %v, want ErrStreamEnded", err)
	}

	ctx := context.Background()
	f, err := m.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Text != "last" {
		t.Errorf("frame = %q, want buffered frame before end", f.Text)
	}

	if _, err := m.Next(ctx); !errors.Is(err, ErrStreamEnded) {
		t.Errorf("Next after drain = %v, want ErrStreamEnded", err)
	}
}

func TestMultiplexer_EndWakesParkedConsumer(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(8)
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	m.End()
	m.End() // idempotent

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStreamEnded) {
			t.Errorf("Next = %v, want ErrStreamEnded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("End did not wake the parked consumer")
	}
}

func TestMultiplexer_NextContextCancel(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(8)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Next = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock Next")
	}

	// The multiplexer stays usable after a cancelled Next.
	if err := m.Push(Frame{Kind: KindText, Text: "after"}); err != nil {
		t.Fatalf("Push after cancel: %v", err)
	}
	f, err := m.Next(context.Background())
	if err != nil || f.Text != "after" {
		t.Errorf("Next after cancel = %q, %v", f.Text, err)
	}
}

func TestMultiplexer_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(1024)
	const producers = 8
	const perProducer = 100

	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < perProducer; i++ {
				_ = m.Push(Frame{Kind: KindAudio, Audio: []float32{1}})
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := 0
	for received < producers*perProducer {
		if _, err := m.Next(ctx); err != nil {
			t.Fatalf("Next after %d frames: %v", received, err)
		}
		received++
	}
}
