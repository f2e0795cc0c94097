// Package uvpng transcodes a filtered GRIB2 message's U/V wind components
// into an 8-bit RGB PNG. Ported from original_source's grib_png.rs
// (grib_to_uv_png / normalize_wind / encode_png); PNG encoding itself uses
// the standard library's image/png, which is the correct idiomatic choice
// here — no pack example reaches for a third-party PNG encoder.
package uvpng

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"sailrace/internal/grib"
)

const (
	windMin = -30.0
	windMax = 30.0
)

// supported grid widths (spec §3) and their pole-row-inclusive heights.
// The archive this project targets (gfs.0p25) ships the 1440-wide grid;
// the 720-wide grid is kept for lower-resolution sources. Either width may
// arrive with or without the trailing south-pole row.
var supportedHeights = map[int][2]int{
	720:  {360, 361},
	1440: {720, 721},
}

var ErrMissingComponent = errors.New("uvpng: U or V wind component not found in GRIB message")

// Normalize maps a wind speed in m/s from [-30, 30] to [0, 255], clamping
// out-of-range and non-finite inputs. Ported from normalize_wind in
// grib_png.rs: round((clamp(x, -30, 30) + 30) / 60 * 255), so the scaling
// happens before the rounding (Normalize(0) is 128).
func Normalize(x float64) uint8 {
	clamped := clamp(x, windMin, windMax)
	normalized := (clamped - windMin) / (windMax - windMin)
	return uint8(math.Round(normalized * 255.0))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo // NaN -> 0 after normalization, matching the saturating float->int cast the original relies on
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Encode takes the first decodable U-component and the first decodable
// V-component submessage among gribMessages and renders them to an 8-bit
// RGB PNG: R=normalize(U), G=normalize(V), B=0. It does not search further
// for a matching pair: if those two differ in grid size, or the size is not
// a supported one, Encode returns an error.
func Encode(gribMessages [][]byte) ([]byte, error) {
	var u, v []float32
	var uNx, uNy, vNx, vNy int

	for _, msg := range gribMessages {
		if u != nil && v != nil {
			break
		}
		for _, sub := range grib.Submessages(msg) {
			if sub.Discipline != grib.DisciplineMeteorological || sub.Category != grib.CategoryMomentum {
				continue
			}
			switch sub.Parameter {
			case grib.ParamUWind:
				if u != nil {
					continue
				}
				values, err := sub.Values()
				if err != nil {
					continue
				}
				u, uNx, uNy = values, sub.Nx, sub.Ny
			case grib.ParamVWind:
				if v != nil {
					continue
				}
				values, err := sub.Values()
				if err != nil {
					continue
				}
				v, vNx, vNy = values, sub.Nx, sub.Ny
			}
			if u != nil && v != nil {
				break
			}
		}
	}

	if u == nil || v == nil {
		return nil, ErrMissingComponent
	}

	u, v, nx, ny, err := normalizeGrid(u, uNx, uNy, v, vNx, vNy)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, nx, ny))
	for i := 0; i < nx*ny; i++ {
		x := i % nx
		y := i / nx
		img.Set(x, y, color.RGBA{
			R: Normalize(float64(u[i])),
			G: Normalize(float64(v[i])),
			B: 0,
			A: 255,
		})
	}

	var buf bytes.Buffer
	// img is fully opaque (A=255 everywhere), so the standard encoder
	// emits color type 2 (RGB, no alpha channel) automatically via its
	// Opaque() fast path, matching the original's ColorType::Rgb output.
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("uvpng: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// normalizeGrid validates accepted grid sizes (spec §3) and drops the
// south-pole row from the "+1" variants, otherwise leaving the data at its
// native resolution — spec §4.D encodes one pixel per input value, it does
// not resample.
func normalizeGrid(u []float32, uNx, uNy int, v []float32, vNx, vNy int) (outU, outV []float32, nx, ny int, err error) {
	if uNx != vNx || uNy != vNy || len(u) != len(v) {
		return nil, nil, 0, 0, fmt.Errorf("uvpng: mismatched U/V grid dimensions: u=%dx%d (%d) v=%dx%d (%d)", uNx, uNy, len(u), vNx, vNy, len(v))
	}

	heights, ok := supportedHeights[uNx]
	if !ok {
		return nil, nil, 0, 0, fmt.Errorf("uvpng: unsupported grid size %dx%d", uNx, uNy)
	}
	bare, withPole := heights[0], heights[1]

	switch uNy {
	case bare:
		return u, v, uNx, bare, nil
	case withPole:
		return u[:uNx*bare], v[:uNx*bare], uNx, bare, nil
	default:
		return nil, nil, 0, 0, fmt.Errorf("uvpng: unsupported grid size %dx%d", uNx, uNy)
	}
}
