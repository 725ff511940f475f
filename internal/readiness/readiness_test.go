package readiness

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/eventloop"
)

type side struct {
	c     *Coordinator
	sent  []int
	fired []int
}

func newSide(clock *eventloop.Manual) *side {
	s := &side{}
	s.c = New(Config{
		ResendInterval: 500 * time.Millisecond,
		Scheduler:      clock,
		Send: func(round int) error {
			s.sent = append(s.sent, round)
			return nil
		},
		OnBothReady: func(round int) { s.fired = append(s.fired, round) },
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s
}

func TestBothReady_FiresOnceInEitherOrder(t *testing.T) {
	clock := eventloop.NewManual(time.Unix(0, 0))

	a := newSide(clock)
	a.c.MarkLocalReady()
	a.c.HandleRemoteReady(0)
	if len(a.fired) != 1 {
		t.Fatalf("local-first: fired=%v", a.fired)
	}

	b := newSide(clock)
	b.c.HandleRemoteReady(0)
	if len(b.fired) != 0 {
		t.Fatal("fired before local ready")
	}
	b.c.MarkLocalReady()
	if len(b.fired) != 1 {
		t.Fatalf("remote-first: fired=%v", b.fired)
	}

	// Duplicates never fire again.
	a.c.HandleRemoteReady(0)
	a.c.MarkLocalReady()
	b.c.HandleRemoteReady(0)
	if len(a.fired) != 1 || len(b.fired) != 1 {
		t.Fatalf("duplicate fired: a=%v b=%v", a.fired, b.fired)
	}
}

// Both peers click ready at nearly the same moment and the messages cross.
func TestSimultaneousReady_NoEchoStorm(t *testing.T) {
	clock := eventloop.NewManual(time.Unix(0, 0))
	a, b := newSide(clock), newSide(clock)

	a.c.MarkLocalReady()
	b.c.MarkLocalReady()
	a.c.HandleRemoteReady(0)
	b.c.HandleRemoteReady(0)

	if len(a.fired) != 1 || len(b.fired) != 1 {
		t.Fatalf("fired: a=%v b=%v", a.fired, b.fired)
	}
	clock.Advance(5 * time.Second)
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("extra sends: a=%v b=%v", a.sent, b.sent)
	}
}

func TestResend_UntilPeerSeen(t *testing.T) {
	clock := eventloop.NewManual(time.Unix(0, 0))
	a := newSide(clock)

	a.c.MarkLocalReady()
	clock.Advance(1500 * time.Millisecond)
	if len(a.sent) != 4 {
		t.Fatalf("sent=%d, want initial plus 3 resends", len(a.sent))
	}

	a.c.HandleRemoteReady(0)
	clock.Advance(5 * time.Second)
	if len(a.sent) != 4 {
		t.Fatalf("resend continued after both ready: %d", len(a.sent))
	}
}

// A's ready is lost; B keeps re-sending and A's echo lets B converge.
func TestLostReady_EchoConverges(t *testing.T) {
	clock := eventloop.NewManual(time.Unix(0, 0))
	a, b := newSide(clock), newSide(clock)

	a.c.MarkLocalReady() // lost
	b.c.MarkLocalReady()
	a.c.HandleRemoteReady(0) // a: both ready, stops resending
	if len(a.fired) != 1 {
		t.Fatal("a should be ready")
	}
	sentBefore := len(a.sent)

	// B's resend arrives as a duplicate; A echoes exactly once.
	clock.Advance(500 * time.Millisecond)
	a.c.HandleRemoteReady(0)
	if len(a.sent) != sentBefore+1 {
		t.Fatalf("a sent %d, want one echo", len(a.sent)-sentBefore)
	}

	b.c.HandleRemoteReady(0)
	if len(b.fired) != 1 {
		t.Fatal("b should converge on the echo")
	}
	bSent := len(b.sent)
	clock.Advance(5 * time.Second)
	if len(b.sent) != bSent {
		t.Fatal("b must stop re-sending")
	}
}

func TestOtherRoundsIgnored_AndResetClears(t *testing.T) {
	clock := eventloop.NewManual(time.Unix(0, 0))
	a := newSide(clock)

	a.c.MarkLocalReady()
	a.c.HandleRemoteReady(1)
	if a.c.State().RemoteReady {
		t.Fatal("ready for another round must be ignored")
	}
	a.c.HandleRemoteReady(0)
	if len(a.fired) != 1 || a.fired[0] != 0 {
		t.Fatalf("fired=%v", a.fired)
	}

	a.c.Reset(1)
	if a.c.State() != (State{}) || a.c.Round() != 1 {
		t.Fatalf("reset state=%+v round=%d", a.c.State(), a.c.Round())
	}
	a.c.HandleRemoteReady(0)
	a.c.MarkLocalReady()
	if len(a.fired) != 1 {
		t.Fatal("stale round-0 ready must not start round 1")
	}
	a.c.HandleRemoteReady(1)
	if len(a.fired) != 2 || a.fired[1] != 1 {
		t.Fatalf("fired=%v", a.fired)
	}
	if a.sent[len(a.sent)-1] != 1 {
		t.Fatal("ready must carry the current round")
	}
}

func TestReset_CancelsPendingResend(t *testing.T) {
	clock := eventloop.NewManual(time.Unix(0, 0))
	a := newSide(clock)
	a.c.MarkLocalReady()
	a.c.Reset(1)
	clock.Advance(2 * time.Second)
	if len(a.sent) != 1 {
		t.Fatalf("sent=%v", a.sent)
	}
	if clock.Pending() != 0 {
		t.Fatalf("pending timers=%d", clock.Pending())
	}
}
