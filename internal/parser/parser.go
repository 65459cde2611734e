package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/util"
)

// ErrMissingArgs is wrapped when a command carries fewer arguments than it needs.
var ErrMissingArgs = errors.New("missing arguments")

// parseUintFromFloat parses a string that may be an integer ("32") or float ("32.00") into uint64.
// Script hosts often have no integer type, so numbers may arrive serialized as floats.
func parseUintFromFloat(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("parseUintFromFloat: %q is not a valid uint64", s)
	}
	return uint64(f), nil
}

// parseIntFromFloat parses a string that may be an integer or float into int64.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

// parseFinite parses a float and rejects NaN and infinities.
func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return f, nil
}

func parseVehicleID(s string) (uint16, error) {
	id, err := parseUintFromFloat(s)
	if err != nil {
		return 0, fmt.Errorf("error converting vehicle id: %w", err)
	}
	if id > math.MaxUint16 {
		return 0, fmt.Errorf("vehicle id %d out of range", id)
	}
	return uint16(id), nil
}

func requireArgs(data []string, n int, what string) error {
	if len(data) < n {
		return fmt.Errorf("%w: %s needs %d, got %d", ErrMissingArgs, what, n, len(data))
	}
	return nil
}

// ParseVec3 parses "[x,y,z]".
func ParseVec3(s string) (mgl64.Vec3, error) {
	f, err := util.ParseFloatList(s)
	if err != nil {
		return mgl64.Vec3{}, err
	}
	if len(f) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("expected 3 components, got %d", len(f))
	}
	v := mgl64.Vec3{f[0], f[1], f[2]}
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return mgl64.Vec3{}, fmt.Errorf("non-finite component in %q", s)
		}
	}
	return v, nil
}

// ParseOrientation parses either a quaternion "[w,x,y,z]" or Euler angles in
// degrees "[pitch,yaw,roll]". An empty string is the identity.
func ParseOrientation(s string) (mgl64.Quat, error) {
	f, err := util.ParseFloatList(s)
	if err != nil {
		return mgl64.Quat{}, err
	}
	switch len(f) {
	case 0:
		return mgl64.QuatIdent(), nil
	case 3:
		return mgl64.AnglesToQuat(
			mgl64.DegToRad(f[1]), mgl64.DegToRad(f[0]), mgl64.DegToRad(f[2]),
			mgl64.YXZ,
		), nil
	case 4:
		q := mgl64.Quat{W: f[0], V: mgl64.Vec3{f[1], f[2], f[3]}}
		if q.Len() < 1e-9 {
			return mgl64.Quat{}, fmt.Errorf("degenerate quaternion %q", s)
		}
		return q.Normalize(), nil
	}
	return mgl64.Quat{}, fmt.Errorf("expected 3 or 4 components, got %d", len(f))
}

// Parser provides pure []string -> core struct conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parser{logger: logger}
}

// ParseVehicleID parses a command whose first argument is the vehicle id.
func (p *Parser) ParseVehicleID(data []string) (uint16, error) {
	if err := requireArgs(data, 1, "vehicle command"); err != nil {
		return 0, err
	}
	return parseVehicleID(util.TrimQuotes(data[0]))
}
