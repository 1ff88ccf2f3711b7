package buildjob

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coreswap/hotswap/internal/watch"
)

func TestAdvanceIdleWithNoChangesStaysIdle(t *testing.T) {
	o := New(Config{PollWindow: 10 * time.Millisecond}, logrus.NewEntry(logrus.New()))
	changed := watch.NewChangedSet()
	var clock watch.Clock

	o.Advance(changed, &clock, time.Millisecond, func(string) (string, bool) { return "", false })
	if o.State() != Idle {
		t.Fatalf("state = %v, want Idle", o.State())
	}
}

func TestAdvanceDefersWhileNotQuiescent(t *testing.T) {
	o := New(Config{PollWindow: 10 * time.Millisecond}, logrus.NewEntry(logrus.New()))
	changed := watch.NewChangedSet()
	changed.Add("demo")
	var clock watch.Clock
	clock.Bump()

	o.Advance(changed, &clock, time.Hour, func(string) (string, bool) { return "Release", true })
	if o.State() != Idle {
		t.Fatalf("state = %v, want Idle (should defer while clock recent)", o.State())
	}
	if changed.Empty() {
		t.Fatal("module should not have been popped while debounce window has not elapsed")
	}
}

func TestAdvanceSkipsUnresolvableDirective(t *testing.T) {
	o := New(Config{PollWindow: 10 * time.Millisecond}, logrus.NewEntry(logrus.New()))
	changed := watch.NewChangedSet()
	changed.Add("demo")
	var clock watch.Clock
	clock.Bump()

	o.Advance(changed, &clock, 0, func(string) (string, bool) { return "", false })
	if o.State() != Idle {
		t.Fatalf("state = %v, want Idle after failing to resolve a directive", o.State())
	}
	if !changed.Empty() {
		t.Fatal("module should have been popped even though its directive could not be resolved")
	}
}

func TestBusyReflectsState(t *testing.T) {
	o := New(Config{}, logrus.NewEntry(logrus.New()))
	if o.Busy() {
		t.Fatal("a fresh orchestrator should not be busy")
	}
	o.state = Compiling
	if !o.Busy() {
		t.Fatal("orchestrator in COMPILING should be busy")
	}
}

func TestWaitNoopWhenIdle(t *testing.T) {
	o := New(Config{}, logrus.NewEntry(logrus.New()))
	o.Wait() // must not block
}
