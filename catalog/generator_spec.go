package catalog

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Kind 值生成方式
type Kind string

const (
	KindUUID       Kind = "uuid"
	KindChoice     Kind = "choice"
	KindIntRange   Kind = "intRange"
	KindFloatRange Kind = "floatRange"
	KindBool       Kind = "bool"
	KindTimestamp  Kind = "timestamp"
	KindNow        Kind = "now"
	KindText       Kind = "text"
	KindName       Kind = "name"
)

const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyz"

// GeneratorSpec 列值生成规则，Kind 决定哪些参数生效
type GeneratorSpec struct {
	Kind Kind `cfg:"kind" json:"kind" yaml:"kind" validate:"required"`

	// choice
	Choices []string `cfg:"choices" json:"choices,omitempty" yaml:"choices,omitempty"`

	// intRange, floatRange，闭区间
	Min       float64 `cfg:"min" json:"min,omitempty" yaml:"min,omitempty"`
	Max       float64 `cfg:"max" json:"max,omitempty" yaml:"max,omitempty"`
	Precision int     `cfg:"precision" json:"precision,omitempty" yaml:"precision,omitempty"`

	// timestamp，在 [now-Window, now] 内均匀分布
	Window time.Duration `cfg:"window" json:"window,omitempty" yaml:"window,omitempty"`

	// text
	Length   int    `cfg:"length" json:"length,omitempty" yaml:"length,omitempty"`
	Alphabet string `cfg:"alphabet" json:"alphabet,omitempty" yaml:"alphabet,omitempty"`
	Upper    bool   `cfg:"upper" json:"upper,omitempty" yaml:"upper,omitempty"`
}

func UUID() GeneratorSpec {
	return GeneratorSpec{Kind: KindUUID}
}

func Choice(choices ...string) GeneratorSpec {
	return GeneratorSpec{Kind: KindChoice, Choices: choices}
}

func IntRange(min, max int) GeneratorSpec {
	return GeneratorSpec{Kind: KindIntRange, Min: float64(min), Max: float64(max)}
}

func FloatRange(min, max float64, precision int) GeneratorSpec {
	return GeneratorSpec{Kind: KindFloatRange, Min: min, Max: max, Precision: precision}
}

func Bool() GeneratorSpec {
	return GeneratorSpec{Kind: KindBool}
}

func TimestampWithin(window time.Duration) GeneratorSpec {
	return GeneratorSpec{Kind: KindTimestamp, Window: window}
}

func Now() GeneratorSpec {
	return GeneratorSpec{Kind: KindNow}
}

func Text(length int, upper bool) GeneratorSpec {
	return GeneratorSpec{Kind: KindText, Length: length, Upper: upper}
}

func PersonName() GeneratorSpec {
	return GeneratorSpec{Kind: KindName}
}

func (s *GeneratorSpec) validate(t ColumnType) error {
	expect := map[Kind][]ColumnType{
		KindUUID:       {TypeUUID, TypeText},
		KindChoice:     {TypeText},
		KindIntRange:   {TypeInteger},
		KindFloatRange: {TypeFloat},
		KindBool:       {TypeBoolean},
		KindTimestamp:  {TypeTimestamp},
		KindNow:        {TypeTimestamp},
		KindText:       {TypeText},
		KindName:       {TypeText},
	}
	types, ok := expect[s.Kind]
	if !ok {
		return errors.Wrapf(ErrInvalidGenerator, "unknown kind %q", s.Kind)
	}
	compatible := false
	for _, candidate := range types {
		if candidate == t {
			compatible = true
		}
	}
	if !compatible {
		return errors.Wrapf(ErrInvalidGenerator, "kind %s cannot produce %s values", s.Kind, t)
	}

	switch s.Kind {
	case KindChoice:
		if len(s.Choices) == 0 {
			return errors.Wrap(ErrInvalidGenerator, "choice requires at least one value")
		}
	case KindIntRange:
		if s.Min > s.Max || s.Min != math.Trunc(s.Min) || s.Max != math.Trunc(s.Max) || s.Min < math.MinInt64 || s.Max > math.MaxInt64 {
			return errors.Wrapf(ErrInvalidGenerator, "invalid integer range [%v, %v]", s.Min, s.Max)
		}
	case KindFloatRange:
		if s.Min > s.Max || s.Precision < 0 || s.Precision > 10 {
			return errors.Wrapf(ErrInvalidGenerator, "invalid float range [%v, %v] precision %d", s.Min, s.Max, s.Precision)
		}
	case KindTimestamp:
		if s.Window <= 0 {
			return errors.Wrap(ErrInvalidGenerator, "timestamp window must be positive")
		}
	case KindText:
		if s.Length <= 0 {
			return errors.Wrap(ErrInvalidGenerator, "text length must be positive")
		}
	}
	return nil
}
