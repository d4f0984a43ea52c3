package uuid

import (
	"strings"
	"testing"
)

func TestUUID(t *testing.T) {
	u := NewUUID()
	a, b := u.ID("task"), u.ID("task")
	if a == b {
		t.Error("UUIDs are not unique")
	}
	if !strings.HasPrefix(a, "task_") {
		t.Errorf("missing prefix: %s", a)
	}
}

func TestSequence(t *testing.T) {
	s := NewSequence()
	for _, tc := range []struct {
		kind string
		want string
	}{
		{"bot", "bot_1"},
		{"task", "task_1"},
		{"task", "task_2"},
		{"bot", "bot_2"},
	} {
		if have := s.ID(tc.kind); have != tc.want {
			t.Errorf("have: %v, want: %v", have, tc.want)
		}
	}
}
