// internal/session/ramp_test.go
package session

import (
	"testing"
	"time"
)

func TestRamp_Unlimited(t *testing.T) {
	r := ramp{}
	now := time.Now()
	r.reset(now)

	if got := r.step(12000, now); got != 12000 {
		t.Fatalf("step = %v, want 12000", got)
	}
	if !r.settled(12000) {
		t.Fatal("unlimited ramp must settle immediately")
	}
}

func TestRamp_AccelerationLimit(t *testing.T) {
	r := ramp{maxAccel: 1000}
	t0 := time.Now()
	r.reset(t0)

	steps := []struct {
		after  time.Duration
		target float64
		want   float64
	}{
		{after: 500 * time.Millisecond, target: 3000, want: 500},
		{after: 1500 * time.Millisecond, target: 3000, want: 1500},
		{after: 3500 * time.Millisecond, target: 3000, want: 3000},
		{after: 4000 * time.Millisecond, target: 0, want: 2500},
		{after: 4000 * time.Millisecond, target: 0, want: 2500}, // dt 0
	}

	for i, s := range steps {
		got := r.step(s.target, t0.Add(s.after))
		if got != s.want {
			t.Errorf("step %d: got %v, want %v", i, got, s.want)
		}
	}
	if r.settled(0) {
		t.Error("ramp toward 0 should not be settled at 2500")
	}
}

func TestRamp_MinRPMFloor(t *testing.T) {
	tests := []struct {
		name   string
		last   float64
		target float64
		want   float64
	}{
		{name: "lifted to floor", last: 0, target: 1000, want: 300},
		{name: "negative lifted", last: 0, target: -1000, want: -300},
		{name: "above floor untouched", last: 400, target: 1000, want: 500},
		{name: "stopping drops to zero", last: 300, target: 0, want: 0},
		{name: "reversing passes through zero", last: 300, target: -1000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t0 := time.Now()
			r := ramp{maxAccel: 1000, minRPM: 300, last: tt.last, at: t0}

			got := r.step(tt.target, t0.Add(100*time.Millisecond))
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRamp_TargetInsideFloorSettles(t *testing.T) {
	r := ramp{minRPM: 300}
	r.reset(time.Now())

	if got := r.step(100, time.Now()); got != 300 {
		t.Fatalf("got %v, want 300", got)
	}
	if !r.settled(100) {
		t.Fatal("a floored target must count as settled")
	}
}
