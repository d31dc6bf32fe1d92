package controlplane

import "testing"

func TestBootSequenceReachesActive(t *testing.T) {
	r := ApplyEvent(StateBooting, EventConfigLoaded)
	if r.NewState != StateReady || !r.Changed {
		t.Fatalf("Booting+ConfigLoaded = %+v, want Ready", r)
	}

	r = ApplyEvent(r.NewState, EventStartCommand)
	if r.NewState != StateActive || !r.Changed {
		t.Fatalf("Ready+StartCommand = %+v, want Active", r)
	}
	if len(r.Actions) != 2 {
		t.Errorf("expected 2 actions starting tasks, got %v", r.Actions)
	}
}

func TestStopCommandDrainsToFinished(t *testing.T) {
	r := ApplyEvent(StateActive, EventStopCommand)
	if r.NewState != StateStopping {
		t.Fatalf("Active+StopCommand = %+v, want Stopping", r)
	}

	r = ApplyEvent(r.NewState, EventTasksDrained)
	if r.NewState != StateFinished {
		t.Fatalf("Stopping+TasksDrained = %+v, want Finished", r)
	}
}

func TestFatalErrorAlsoDrainsToStopping(t *testing.T) {
	r := ApplyEvent(StateActive, EventFatalError)
	if r.NewState != StateStopping {
		t.Fatalf("Active+FatalError = %+v, want Stopping", r)
	}
}

func TestUnlistedTransitionsAreIgnored(t *testing.T) {
	cases := []struct {
		state State
		event Event
	}{
		{StateBooting, EventStartCommand},
		{StateReady, EventStopCommand},
		{StateFinished, EventStartCommand},
		{StateActive, EventStartCommand},
	}
	for _, tc := range cases {
		r := ApplyEvent(tc.state, tc.event)
		if r.Changed {
			t.Errorf("%v+%v unexpectedly changed state to %v", tc.state, tc.event, r.NewState)
		}
		if r.NewState != tc.state {
			t.Errorf("%v+%v changed state, want unchanged", tc.state, tc.event)
		}
	}
}

func TestStateStringers(t *testing.T) {
	if StateBooting.String() != "Booting" || StateFinished.String() != "Finished" {
		t.Error("state stringer mismatch")
	}
	if EventStartCommand.String() != "StartCommand" {
		t.Error("event stringer mismatch")
	}
	if ActionStartTasks.String() != "StartTasks" {
		t.Error("action stringer mismatch")
	}
}
