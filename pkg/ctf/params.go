package ctf

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Params holds the optics parameters for one image.
type Params struct {
	Apix                float64 // pixel size in angstroms
	DefocusU            float64 // major-axis defocus in angstroms
	DefocusV            float64 // minor-axis defocus in angstroms
	DefocusAngle        float64 // astigmatism azimuth in degrees
	Voltage             float64 // acceleration voltage in kilovolts
	SphericalAberration float64 // in millimeters
	AmplitudeContrast   float64
	PhaseShift          float64 // in degrees
	ScaleFactor         float64 // amplitude scaling, 0 leaves amplitudes unscaled
	BFactor             float64 // envelope B-factor in A^2, 0 disables
}

// Validate reports whether the parameters describe a usable optical
// configuration.
func (p Params) Validate() error {
	if p.Apix <= 0 {
		return fmt.Errorf("pixel size must be positive, got %g", p.Apix)
	}
	if p.Voltage <= 0 {
		return fmt.Errorf("voltage must be positive, got %g", p.Voltage)
	}
	if p.AmplitudeContrast < 0 || p.AmplitudeContrast > 1 {
		return fmt.Errorf("amplitude contrast must be in [0,1], got %g", p.AmplitudeContrast)
	}
	return nil
}

// LoadParams reads per-image optics parameters from a whitespace-delimited
// text file. Each non-comment line holds eight or nine columns:
//
//	apix defocus_u defocus_v defocus_angle voltage cs amplitude_contrast phase_shift [scale]
//
// Lines starting with '#' and blank lines are skipped.
func LoadParams(path string) ([]Params, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ctf params: %w", err)
	}
	defer file.Close()

	var params []Params
	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 8 && len(fields) != 9 {
			return nil, fmt.Errorf("line %d: expected 8 or 9 columns, got %d", lineno, len(fields))
		}
		vals := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %d: %w", lineno, i+1, err)
			}
			vals[i] = v
		}

		p := Params{
			Apix:                vals[0],
			DefocusU:            vals[1],
			DefocusV:            vals[2],
			DefocusAngle:        vals[3],
			Voltage:             vals[4],
			SphericalAberration: vals[5],
			AmplitudeContrast:   vals[6],
			PhaseShift:          vals[7],
		}
		if len(vals) == 9 {
			p.ScaleFactor = vals[8]
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		params = append(params, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ctf params: %w", err)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("no ctf parameters found in %s", path)
	}
	return params, nil
}
