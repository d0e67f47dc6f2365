package ctf

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestWavelength(t *testing.T) {
	tests := []struct {
		name    string
		voltage float64
		want    float64
	}{
		{"300kV", 300, 0.019687},
		{"200kV", 200, 0.025079},
		{"120kV", 120, 0.033492},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wavelength(tt.voltage)
			if math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("Wavelength(%v) = %v, want %v", tt.voltage, got, tt.want)
			}
		})
	}
}

func TestComputeZeroFrequency(t *testing.T) {
	p := Params{
		Apix:              1,
		DefocusU:          10000,
		DefocusV:          10000,
		Voltage:           300,
		AmplitudeContrast: 0.1,
	}

	got := Compute([]float64{0, 0}, p)
	if math.Abs(got[0]-(-p.AmplitudeContrast)) > 1e-12 {
		t.Errorf("ctf at zero frequency = %v, want %v", got[0], -p.AmplitudeContrast)
	}
}

func TestComputeFirstZero(t *testing.T) {
	// With pure defocus the first zero sits at s^2 = 1/(df*lambda).
	p := Params{Apix: 1, DefocusU: 10000, DefocusV: 10000, Voltage: 300}
	s := 1 / math.Sqrt(p.DefocusU*Wavelength(p.Voltage))

	got := Compute([]float64{s, 0}, p)
	if math.Abs(got[0]) > 1e-9 {
		t.Errorf("ctf at first zero = %v, want 0", got[0])
	}

	// Underfocus gives negative contrast below the first zero.
	low := Compute([]float64{s / 4, 0}, p)
	if low[0] >= 0 {
		t.Errorf("ctf below first zero = %v, want negative", low[0])
	}
}

func TestComputeAstigmatism(t *testing.T) {
	p := Params{
		Apix:         1,
		DefocusU:     12000,
		DefocusV:     9000,
		DefocusAngle: 30,
		Voltage:      300,
	}
	s := 0.02
	lam := Wavelength(p.Voltage)

	evalAt := func(azimuthDeg, df float64) (got, want float64) {
		a := azimuthDeg * math.Pi / 180
		got = Compute([]float64{s * math.Cos(a), s * math.Sin(a)}, p)[0]
		want = math.Sin(2 * math.Pi * -0.5 * df * lam * s * s)
		return got, want
	}

	t.Run("major axis", func(t *testing.T) {
		got, want := evalAt(p.DefocusAngle, p.DefocusU)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("ctf along major axis = %v, want %v", got, want)
		}
	})

	t.Run("minor axis", func(t *testing.T) {
		got, want := evalAt(p.DefocusAngle+90, p.DefocusV)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("ctf along minor axis = %v, want %v", got, want)
		}
	})
}

func TestComputeScaleAndBFactor(t *testing.T) {
	base := Params{Apix: 1, DefocusU: 15000, DefocusV: 15000, Voltage: 300}
	freqs := []float64{0.01, 0.02, -0.03, 0.015}

	plain := Compute(freqs, base)

	scaled := base
	scaled.ScaleFactor = 0.5
	for i, v := range Compute(freqs, scaled) {
		if math.Abs(v-0.5*plain[i]) > 1e-12 {
			t.Errorf("scaled ctf %d = %v, want %v", i, v, 0.5*plain[i])
		}
	}

	damped := base
	damped.BFactor = 100
	for i, v := range Compute(freqs, damped) {
		s2 := freqs[2*i]*freqs[2*i] + freqs[2*i+1]*freqs[2*i+1]
		want := plain[i] * math.Exp(-100.0/4*s2)
		if math.Abs(v-want) > 1e-12 {
			t.Errorf("damped ctf %d = %v, want %v", i, v, want)
		}
	}
}

func TestCriticalExposure(t *testing.T) {
	if got := CriticalExposure(0.1, 300); got <= CriticalExposure(0.2, 300) {
		t.Error("critical exposure should decrease with frequency")
	}

	// The 200 kV fit decays faster than the 300 kV reference.
	if CriticalExposure(0.1, 200) >= CriticalExposure(0.1, 300) {
		t.Error("200kV critical exposure should be below 300kV")
	}

	// The additive floor dominates at high frequency.
	if got := CriticalExposure(100, 300); math.Abs(got-2.81) > 0.01 {
		t.Errorf("high-frequency critical exposure = %v, want near 2.81", got)
	}
}

func TestDoseFilter(t *testing.T) {
	freqs := []float64{0, 0, 0.05, 0, 0.25, 0}

	t.Run("zero dose passes everything", func(t *testing.T) {
		for i, v := range DoseFilter(freqs, 0, 300) {
			if v != 1 {
				t.Errorf("filter %d = %v at zero dose, want 1", i, v)
			}
		}
	})

	t.Run("attenuation grows with frequency", func(t *testing.T) {
		f := DoseFilter(freqs, 30, 300)
		if f[0] != 1 {
			t.Errorf("zero-frequency filter = %v, want 1", f[0])
		}
		if !(f[0] >= f[1] && f[1] > f[2]) {
			t.Errorf("filter values %v not decreasing with frequency", f)
		}
		for i, v := range f {
			if v < 0 || v > 1 {
				t.Errorf("filter %d = %v outside [0,1]", i, v)
			}
		}
	})
}

func TestTiltScaleFactor(t *testing.T) {
	tests := []struct {
		tilt int
		want float64
	}{
		{0, 1},
		{1, math.Cos(3 * math.Pi / 180)},
		{2, math.Cos(3 * math.Pi / 180)},
		{3, math.Cos(6 * math.Pi / 180)},
		{4, math.Cos(6 * math.Pi / 180)},
	}

	for _, tt := range tests {
		if got := TiltScaleFactor(tt.tilt, 3); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("TiltScaleFactor(%d, 3) = %v, want %v", tt.tilt, got, tt.want)
		}
	}
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "ctf.txt")
		content := "# apix dfu dfv dfang kv cs w ps\n" +
			"1.7 21000 20500 45 300 2.7 0.1 0\n" +
			"\n" +
			"1.7 18000 17500 10 300 2.7 0.1 0 0.95\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		params, err := LoadParams(path)
		if err != nil {
			t.Fatalf("LoadParams failed: %v", err)
		}
		if len(params) != 2 {
			t.Fatalf("loaded %d rows, want 2", len(params))
		}
		if params[0].DefocusU != 21000 || params[0].Voltage != 300 || params[0].ScaleFactor != 0 {
			t.Errorf("row 0 parsed incorrectly: %+v", params[0])
		}
		if params[1].ScaleFactor != 0.95 {
			t.Errorf("row 1 scale factor = %v, want 0.95", params[1].ScaleFactor)
		}
	})

	badFiles := []struct {
		name    string
		content string
	}{
		{"wrong column count", "1.7 21000 20500 45 300 2.7 0.1\n"},
		{"bad number", "1.7 21000 x 45 300 2.7 0.1 0\n"},
		{"negative pixel size", "-1 21000 20500 45 300 2.7 0.1 0\n"},
		{"empty", "# only comments\n"},
	}
	for _, tt := range badFiles {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.txt")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("writing test file: %v", err)
			}
			if _, err := LoadParams(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParamsValidate(t *testing.T) {
	valid := Params{Apix: 1.7, Voltage: 300, AmplitudeContrast: 0.1}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero apix", func(p *Params) { p.Apix = 0 }},
		{"zero voltage", func(p *Params) { p.Voltage = 0 }},
		{"contrast above one", func(p *Params) { p.AmplitudeContrast = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
