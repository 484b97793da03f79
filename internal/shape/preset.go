package shape

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"liquidity-mm/pkg/types"
)

// Type names the generator that produced a shape.
type Type string

const (
	TypeFlat        Type = "flat"        // equal weight at every level
	TypeLinear      Type = "linear"      // weight ramps across the range (Slope > 0 up, < 0 down)
	TypeBell        Type = "bell"        // gaussian around Center with std dev Spread
	TypeExponential Type = "exponential" // exp(-|p - Center| / Spread)
	TypeCustom      Type = "custom"      // points supplied by the operator
)

// Params tunes a generator. Zero values fall back to the defaults below.
type Params struct {
	MinPrice int     `json:"min_price" yaml:"min_price"`
	MaxPrice int     `json:"max_price" yaml:"max_price"`
	Step     int     `json:"step" yaml:"step"`
	Center   float64 `json:"center" yaml:"center"`
	Spread   float64 `json:"spread" yaml:"spread"`
	Slope    float64 `json:"slope" yaml:"slope"`
}

func (p Params) withDefaults() Params {
	if p.MinPrice == 0 {
		p.MinPrice = 10
	}
	if p.MaxPrice == 0 {
		p.MaxPrice = 90
	}
	if p.Step == 0 {
		p.Step = 10
	}
	if p.Center == 0 {
		p.Center = float64(p.MinPrice+p.MaxPrice) / 2
	}
	if p.Spread == 0 {
		p.Spread = 15
	}
	if p.Slope == 0 {
		p.Slope = 1
	}
	return p
}

// Shape is an immutable, named snapshot of a normalized curve.
type Shape struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Params    Params    `json:"params"`
	Points    []Point   `json:"points"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// NewShape generates (or, for TypeCustom, normalizes the given points into)
// a shape with a fresh ID.
func NewShape(name string, typ Type, params Params, custom []Point) (Shape, error) {
	var (
		points []Point
		err    error
	)
	if typ == TypeCustom {
		points = Normalize(custom)
		sortByPrice(points)
		err = Validate(points)
	} else {
		points, err = Generate(typ, params)
	}
	if err != nil {
		return Shape{}, fmt.Errorf("shape %q: %w", name, err)
	}

	return Shape{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      typ,
		Params:    params,
		Points:    points,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Generate builds a normalized curve from a preset type.
func Generate(typ Type, params Params) ([]Point, error) {
	p := params.withDefaults()
	if !types.ValidPrice(p.MinPrice) || !types.ValidPrice(p.MaxPrice) || p.MinPrice > p.MaxPrice {
		return nil, fmt.Errorf("%w: price range %d..%d", types.ErrInvalidInput, p.MinPrice, p.MaxPrice)
	}
	if p.Step < 1 {
		return nil, fmt.Errorf("%w: step %d", types.ErrInvalidInput, p.Step)
	}
	if p.Spread <= 0 || !finite(p.Spread) || !finite(p.Center) || !finite(p.Slope) {
		return nil, fmt.Errorf("%w: generator params %+v", types.ErrInvalidInput, params)
	}

	span := float64(p.MaxPrice - p.MinPrice)
	var points []Point
	for price := p.MinPrice; price <= p.MaxPrice; price += p.Step {
		var raw float64
		switch typ {
		case TypeFlat:
			raw = 1
		case TypeLinear:
			t := 0.0
			if span > 0 {
				t = float64(price-p.MinPrice) / span
			}
			if p.Slope < 0 {
				t = 1 - t
			}
			raw = 1 + math.Abs(p.Slope)*t
		case TypeBell:
			d := float64(price) - p.Center
			raw = math.Exp(-(d * d) / (2 * p.Spread * p.Spread))
		case TypeExponential:
			raw = math.Exp(-math.Abs(float64(price)-p.Center) / p.Spread)
		default:
			return nil, fmt.Errorf("%w: unknown shape type %q", types.ErrInvalidInput, typ)
		}
		points = append(points, Point{Price: price, Weight: raw})
	}

	return Normalize(points), nil
}

// presetFile is the YAML layout of a shape library file.
type presetFile struct {
	Shapes []struct {
		Name    string  `yaml:"name"`
		Type    Type    `yaml:"type"`
		Params  Params  `yaml:"params"`
		Points  []Point `yaml:"points"`
		Default bool    `yaml:"default"`
	} `yaml:"shapes"`
}

// LoadPresets reads a YAML shape library and generates every entry.
// At most one entry may be marked default.
func LoadPresets(path string) ([]Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	shapes := make([]Shape, 0, len(file.Shapes))
	defaults := 0
	for _, entry := range file.Shapes {
		s, err := NewShape(entry.Name, entry.Type, entry.Params, entry.Points)
		if err != nil {
			return nil, err
		}
		if entry.Default {
			s.IsDefault = true
			defaults++
		}
		shapes = append(shapes, s)
	}
	if defaults > 1 {
		return nil, fmt.Errorf("%w: %d presets marked default", types.ErrInvalidInput, defaults)
	}
	return shapes, nil
}
