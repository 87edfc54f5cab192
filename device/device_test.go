package device

import "testing"

func TestPenPctToPos(t *testing.T) {
	d := V3(5)
	cases := []struct {
		pct  float64
		want int
	}{
		{0, d.PenServoMax},
		{100, d.PenServoMin},
		{50, (d.PenServoMax + d.PenServoMin) / 2},
	}
	for _, c := range cases {
		if got := d.PenPctToPos(c.pct); got != c.want {
			t.Errorf("PenPctToPos(%v) = %d, want %d", c.pct, got, c.want)
		}
	}
}

func TestHardwareServoPin(t *testing.T) {
	if got := HardwareV3.ServoPin(); got != 4 {
		t.Errorf("V3 ServoPin = %d, want 4", got)
	}
	if got := HardwareBrushless.ServoPin(); got != 5 {
		t.Errorf("Brushless ServoPin = %d, want 5", got)
	}
}

func TestStepsFromMm(t *testing.T) {
	d := V3(5)
	if got := d.StepsFromMm(10); got != 50 {
		t.Errorf("StepsFromMm(10) = %v, want 50", got)
	}
}
