// Package units converts native device units into MTConnect units.
package units

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Conversion maps a native value to value*Factor + Offset.
type Conversion struct {
	Factor decimal.Decimal
	Offset decimal.Decimal
}

func scale(f string) Conversion {
	return Conversion{Factor: decimal.RequireFromString(f)}
}

// Apply converts a single value.
func (c Conversion) Apply(v decimal.Decimal) decimal.Decimal {
	return v.Mul(c.Factor).Add(c.Offset)
}

var (
	fiveNinths = decimal.NewFromInt(5).Div(decimal.NewFromInt(9))

	// keyed by "NATIVE>UNITS"; built once and never modified
	conversions = map[string]Conversion{
		"INCH>MILLIMETER":                     scale("25.4"),
		"FOOT>MILLIMETER":                     scale("304.8"),
		"CENTIMETER>MILLIMETER":               scale("10"),
		"DECIMETER>MILLIMETER":                scale("100"),
		"METER>MILLIMETER":                    scale("1000"),
		"MICROMETER>MILLIMETER":               scale("0.001"),
		"INCH/SECOND>MILLIMETER/SECOND":       scale("25.4"),
		"INCH/MINUTE>MILLIMETER/SECOND":       {Factor: decimal.RequireFromString("25.4").Div(decimal.NewFromInt(60))},
		"FOOT/MINUTE>MILLIMETER/SECOND":       {Factor: decimal.RequireFromString("304.8").Div(decimal.NewFromInt(60))},
		"MILLIMETER/MINUTE>MILLIMETER/SECOND": {Factor: decimal.NewFromInt(1).Div(decimal.NewFromInt(60))},
		"INCH/SECOND^2>MILLIMETER/SECOND^2":   scale("25.4"),
		"FOOT/SECOND^2>MILLIMETER/SECOND^2":   scale("304.8"),
		"INCH^3>CUBIC_MILLIMETER":             scale("16387.064"),
		"FOOT^3>CUBIC_MILLIMETER":             scale("28316846.592"),
		"GALLON/MINUTE>LITER/SECOND":          {Factor: decimal.RequireFromString("3.785411784").Div(decimal.NewFromInt(60))},
		"GALLON>LITER":                        scale("3.785411784"),
		"POUND>KILOGRAM":                      scale("0.45359237"),
		"GRAM>KILOGRAM":                       scale("0.001"),
		"OUNCE>KILOGRAM":                      scale("0.028349523125"),
		"RADIAN>DEGREE":                       scale("57.29577951308232"),
		"RADIAN/SECOND>DEGREE/SECOND":         scale("57.29577951308232"),
		"RADIAN/SECOND^2>DEGREE/SECOND^2":     scale("57.29577951308232"),
		"REVOLUTION/SECOND>REVOLUTION/MINUTE": scale("60"),
		"MINUTE>SECOND":                       scale("60"),
		"HOUR>SECOND":                         scale("3600"),
		"MILLISECOND>SECOND":                  scale("0.001"),
		"KILOWATT>WATT":                       scale("1000"),
		"KILOWATT_HOUR>WATT_SECOND":           scale("3600000"),
		"WATT_HOUR>WATT_SECOND":               scale("3600"),
		"KILOVOLT>VOLT":                       scale("1000"),
		"MILLIAMPERE>AMPERE":                  scale("0.001"),
		"BAR>PASCAL":                          scale("100000"),
		"POUND/INCH^2>PASCAL":                 scale("6894.757293168"),
		"MILLIMETER_MERCURY>PASCAL":           scale("133.322387415"),
		"KILONEWTON>NEWTON":                   scale("1000"),
		"POUND_FORCE>NEWTON":                  scale("4.4482216152605"),
		"FOOT_POUND>NEWTON_METER":             scale("1.3558179483314"),
		"INCH_POUND>NEWTON_METER":             scale("0.1129848290276"),
		"FAHRENHEIT>CELSIUS":                  {Factor: fiveNinths, Offset: decimal.NewFromInt(-32).Mul(fiveNinths)},
		"KELVIN>CELSIUS":                      {Factor: decimal.NewFromInt(1), Offset: decimal.RequireFromString("-273.15")},
		"HERTZ>REVOLUTION/MINUTE":             scale("60"),
		"KILOHERTZ>HERTZ":                     scale("1000"),
		"MEGAHERTZ>HERTZ":                     scale("1000000"),
	}
)

// Lookup returns the conversion from nativeUnits to units. A 3D suffix is
// ignored on both sides.
func Lookup(nativeUnits, units string) (Conversion, bool) {
	from := strings.TrimSuffix(nativeUnits, "_3D")
	to := strings.TrimSuffix(units, "_3D")
	if from == "" || to == "" || from == to {
		return Conversion{}, false
	}
	c, ok := conversions[from+">"+to]
	return c, ok
}

// Convert converts a Result into units. Space separated vectors are
// converted element-wise. The value is divided by nativeScale when it is
// non-zero. Non-numeric values are returned unchanged with ok false.
func Convert(value, nativeUnits, units string, nativeScale float64) (converted string, ok bool) {
	conv, hasConv := Lookup(nativeUnits, units)
	hasScale := nativeScale != 0 && nativeScale != 1
	if !hasConv && !hasScale {
		return value, false
	}

	fields := strings.Fields(value)
	if len(fields) == 0 {
		return value, false
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return value, false
		}
		if hasConv {
			d = conv.Apply(d)
		}
		if hasScale {
			d = d.Div(decimal.NewFromFloat(nativeScale))
		}
		out[i] = trim(d)
	}
	return strings.Join(out, " "), true
}

// trim rounds away division noise and drops trailing zeros.
func trim(d decimal.Decimal) string {
	return d.Round(10).String()
}
