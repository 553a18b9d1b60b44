package audit

import (
	"strings"
	"testing"
	"time"
)

func TestTimestampUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("COT", -5*3600))
	c := Context{Actor: "test", Now: func() time.Time { return fixed }}

	got := c.Timestamp()
	if !got.Equal(fixed) {
		t.Errorf("Timestamp() = %v, want %v", got, fixed)
	}
	if got.Location() != time.UTC {
		t.Errorf("Timestamp() zone = %v, want UTC", got.Location())
	}
}

func TestTimestampNilClockIsWallClock(t *testing.T) {
	before := time.Now().UTC()
	got := Context{Actor: "test"}.Timestamp()
	after := time.Now().UTC()
	if got.Before(before) || got.After(after) {
		t.Errorf("Timestamp() = %v, outside [%v, %v]", got, before, after)
	}
}

func TestSystemActor(t *testing.T) {
	if got := System().Actor; got != "pipeline" {
		t.Errorf("System().Actor = %q, want pipeline", got)
	}
}

func TestRenderTransition(t *testing.T) {
	oldTrue := true
	cases := []struct {
		name string
		op   string
		old  *bool
		want string
	}{
		{"create", OpCreate, nil, "create: value=false; evidence=ev; source=src"},
		{"update with prior", OpUpdate, &oldTrue, "update: value=true -> false; evidence=ev; source=src"},
		{"update without prior", OpUpdate, nil, "update: value=? -> false; evidence=ev; source=src"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RenderTransition(tc.op, tc.old, false, "ev", "src")
			if got != tc.want {
				t.Errorf("RenderTransition = %q, want %q", got, tc.want)
			}
		})
	}

	if got := RenderTransition(OpDelete, nil, true, "", "src"); !strings.HasPrefix(got, "delete:") {
		t.Errorf("delete transition = %q", got)
	}
}
