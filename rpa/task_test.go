package rpa

import (
	"errors"
	"testing"
	"time"
)

func TestTaskTransition(t *testing.T) {
	now := time.Now()
	for _, final := range []TaskStatus{TaskCompleted, TaskFailed} {
		task := &Task{ID: "t1", Status: TaskQueued}

		if err := task.Transition(TaskRunning, now); err != nil {
			t.Fatal(err)
		}
		if have, want := task.StartTime, now; !have.Equal(want) {
			t.Errorf("have: %v, want: %v", have, want)
		}

		end := now.Add(time.Second)
		if err := task.Transition(final, end); err != nil {
			t.Fatal(err)
		}
		if have, want := task.Status, final; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
		if have, want := task.Duration(), time.Second; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}

		// terminal states never change
		for _, to := range []TaskStatus{TaskQueued, TaskRunning, TaskCompleted, TaskFailed} {
			err := task.Transition(to, end)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s to %s: expected invalid transition, have: %v", final, to, err)
			}
		}
		if have, want := task.Status, final; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
	}
}

func TestTaskTransitionSkip(t *testing.T) {
	task := &Task{ID: "t1", Status: TaskQueued}
	if err := task.Transition(TaskCompleted, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected invalid transition, have: %v", err)
	}
	if have, want := task.Status, TaskQueued; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
