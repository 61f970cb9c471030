// Package particleio reads and writes airway particle sets in the VTK
// legacy ASCII polydata format: a POINTS section for positions plus
// FIELD arrays for scale, hevec2 (minor axis), and ChestType (the
// generation label encoding).
package particleio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chestlab-data/airway.report/internal/airway"
	"github.com/chestlab-data/airway.report/internal/monitoring"
)

// ReadFile loads a particle set from a VTK polydata file.
func ReadFile(path string) ([]airway.Particle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open particles file: %w", err)
	}
	defer f.Close()

	particles, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return particles, nil
}

// Read parses a particle set from VTK legacy ASCII polydata. The scale
// and hevec2 field arrays are required; ChestType is optional and maps
// to generation labels, with unrecognized codes warned about and set to
// undefined. Unrelated field arrays (other eigenvectors, eigenvalues,
// ChestRegion) are skipped.
func Read(r io.Reader) ([]airway.Particle, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	// Header: magic line, title line, encoding, dataset kind.
	header := make([]string, 0, 4)
	for len(header) < 4 && sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		header = append(header, line)
	}
	if len(header) < 4 {
		return nil, fmt.Errorf("truncated VTK header")
	}
	if !strings.HasPrefix(header[0], "# vtk DataFile") {
		return nil, fmt.Errorf("not a VTK legacy file: %q", header[0])
	}
	if !strings.EqualFold(header[2], "ASCII") {
		return nil, fmt.Errorf("unsupported VTK encoding %q, want ASCII", header[2])
	}
	if !strings.EqualFold(header[3], "DATASET POLYDATA") {
		return nil, fmt.Errorf("unsupported dataset %q, want POLYDATA", header[3])
	}

	tok := newTokenizer(sc)

	var (
		positions  []r3.Vec
		scales     []float64
		minorAxes  []r3.Vec
		chestTypes []float64
	)

	for {
		keyword, err := tok.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch strings.ToUpper(keyword) {
		case "POINTS":
			n, err := tok.nextInt()
			if err != nil {
				return nil, fmt.Errorf("POINTS count: %w", err)
			}
			if _, err := tok.next(); err != nil { // data type, e.g. float
				return nil, fmt.Errorf("POINTS type: %w", err)
			}
			positions = make([]r3.Vec, n)
			for i := 0; i < n; i++ {
				if positions[i], err = tok.nextVec(); err != nil {
					return nil, fmt.Errorf("POINTS row %d: %w", i, err)
				}
			}

		case "VERTICES", "LINES", "POLYGONS", "TRIANGLE_STRIPS":
			// Connectivity sections carry no particle attributes; the
			// topology is rebuilt from geometry anyway.
			rows, err := tok.nextInt()
			if err != nil {
				return nil, fmt.Errorf("%s counts: %w", keyword, err)
			}
			total, err := tok.nextInt()
			if err != nil {
				return nil, fmt.Errorf("%s counts: %w", keyword, err)
			}
			_ = rows
			for i := 0; i < total; i++ {
				if _, err := tok.next(); err != nil {
					return nil, fmt.Errorf("%s data: %w", keyword, err)
				}
			}

		case "FIELD":
			if _, err := tok.next(); err != nil { // field data name
				return nil, fmt.Errorf("FIELD name: %w", err)
			}
			arrays, err := tok.nextInt()
			if err != nil {
				return nil, fmt.Errorf("FIELD array count: %w", err)
			}
			for a := 0; a < arrays; a++ {
				name, components, tuples, err := tok.arrayHeader()
				if err != nil {
					return nil, fmt.Errorf("FIELD array %d header: %w", a, err)
				}
				values, err := tok.floats(components * tuples)
				if err != nil {
					return nil, fmt.Errorf("FIELD array %q: %w", name, err)
				}
				switch {
				case name == "scale" && components == 1:
					scales = values
				case name == "hevec2" && components == 3:
					minorAxes = make([]r3.Vec, tuples)
					for i := range minorAxes {
						minorAxes[i] = r3.Vec{X: values[3*i], Y: values[3*i+1], Z: values[3*i+2]}
					}
				case name == "ChestType" && components == 1:
					chestTypes = values
				}
			}

		case "POINT_DATA", "CELL_DATA":
			// Followed by a count we don't need.
			if _, err := tok.nextInt(); err != nil {
				return nil, fmt.Errorf("%s count: %w", keyword, err)
			}

		default:
			// Unknown sections cannot be skipped safely without their
			// length; treat as malformed.
			return nil, fmt.Errorf("unsupported VTK section %q", keyword)
		}
	}

	n := len(positions)
	if n == 0 {
		return nil, fmt.Errorf("no POINTS section")
	}
	if len(scales) != n {
		return nil, fmt.Errorf("scale array has %d tuples, want %d", len(scales), n)
	}
	if len(minorAxes) != n {
		return nil, fmt.Errorf("hevec2 array has %d tuples, want %d", len(minorAxes), n)
	}
	if chestTypes != nil && len(chestTypes) != n {
		return nil, fmt.Errorf("ChestType array has %d tuples, want %d", len(chestTypes), n)
	}

	particles := make([]airway.Particle, n)
	for i := range particles {
		particles[i] = airway.Particle{
			Pos:        positions[i],
			Scale:      scales[i],
			MinorAxis:  minorAxes[i],
			Generation: airway.GenUndefined,
		}
		if chestTypes != nil {
			g, ok := airway.GenerationFromChestType(uint8(chestTypes[i]))
			if !ok {
				monitoring.Logf("particleio: particle %d has non-airway ChestType %v; treating as undefined", i, chestTypes[i])
			}
			particles[i].Generation = g
		}
	}
	return particles, nil
}

// WriteFile writes a particle set to a VTK polydata file.
func WriteFile(path string, particles []airway.Particle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create particles file: %w", err)
	}
	defer f.Close()

	if err := Write(f, particles); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Write emits the particle set as VTK legacy ASCII polydata, including a
// VERTICES section so viewers render the points directly.
func Write(w io.Writer, particles []airway.Particle) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "# vtk DataFile Version 3.0")
	fmt.Fprintln(bw, "airway particles")
	fmt.Fprintln(bw, "ASCII")
	fmt.Fprintln(bw, "DATASET POLYDATA")

	n := len(particles)
	fmt.Fprintf(bw, "POINTS %d float\n", n)
	for _, p := range particles {
		fmt.Fprintf(bw, "%g %g %g\n", p.Pos.X, p.Pos.Y, p.Pos.Z)
	}

	fmt.Fprintf(bw, "VERTICES %d %d\n", n, 2*n)
	for i := range particles {
		fmt.Fprintf(bw, "1 %d\n", i)
	}

	fmt.Fprintln(bw, "FIELD FieldData 3")

	fmt.Fprintf(bw, "scale 1 %d float\n", n)
	for _, p := range particles {
		fmt.Fprintf(bw, "%g\n", p.Scale)
	}

	fmt.Fprintf(bw, "hevec2 3 %d float\n", n)
	for _, p := range particles {
		fmt.Fprintf(bw, "%g %g %g\n", p.MinorAxis.X, p.MinorAxis.Y, p.MinorAxis.Z)
	}

	fmt.Fprintf(bw, "ChestType 1 %d float\n", n)
	for _, p := range particles {
		fmt.Fprintf(bw, "%d\n", p.Generation.ChestType())
	}

	return bw.Flush()
}

// tokenizer streams whitespace-separated tokens from the scanner after
// the header lines are consumed.
type tokenizer struct {
	sc     *bufio.Scanner
	fields []string
	pos    int
}

func newTokenizer(sc *bufio.Scanner) *tokenizer {
	return &tokenizer{sc: sc}
}

func (t *tokenizer) next() (string, error) {
	for t.pos >= len(t.fields) {
		if !t.sc.Scan() {
			if err := t.sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		t.fields = strings.Fields(t.sc.Text())
		t.pos = 0
	}
	tok := t.fields[t.pos]
	t.pos++
	return tok, nil
}

func (t *tokenizer) nextInt() (int, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %q", tok)
	}
	return n, nil
}

func (t *tokenizer) nextFloat() (float64, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", tok)
	}
	return v, nil
}

func (t *tokenizer) nextVec() (r3.Vec, error) {
	var v r3.Vec
	var err error
	if v.X, err = t.nextFloat(); err != nil {
		return v, err
	}
	if v.Y, err = t.nextFloat(); err != nil {
		return v, err
	}
	v.Z, err = t.nextFloat()
	return v, err
}

func (t *tokenizer) floats(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := t.nextFloat()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// arrayHeader reads a FIELD array header: name, components, tuples, type.
func (t *tokenizer) arrayHeader() (name string, components, tuples int, err error) {
	if name, err = t.next(); err != nil {
		return "", 0, 0, err
	}
	if components, err = t.nextInt(); err != nil {
		return "", 0, 0, err
	}
	if tuples, err = t.nextInt(); err != nil {
		return "", 0, 0, err
	}
	if _, err = t.next(); err != nil { // data type
		return "", 0, 0, err
	}
	return name, components, tuples, nil
}
