package overlay

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/antonstocut/personseeker/internal/probe"
)

// LabelFormatter renders distance estimates as decimal text with a fixed
// number of fraction digits.
type LabelFormatter struct {
	printer *message.Printer
	digits  int
	unit    string
}

// NewLabelFormatter creates a formatter; an empty tag falls back to English.
func NewLabelFormatter(tag language.Tag, digits int, unit string) *LabelFormatter {
	if tag == language.Und {
		tag = language.English
	}
	if digits < 0 {
		digits = 0
	}
	return &LabelFormatter{
		printer: message.NewPrinter(tag),
		digits:  digits,
		unit:    unit,
	}
}

// DefaultLabelFormatter formats two fraction digits in meters.
func DefaultLabelFormatter() *LabelFormatter {
	return NewLabelFormatter(language.English, 2, "m")
}

// Format returns "" for an absent estimate.
func (f *LabelFormatter) Format(e probe.Estimate) string {
	d, ok := e.Value()
	if !ok {
		return ""
	}
	s := f.printer.Sprint(number.Decimal(d,
		number.MinFractionDigits(f.digits),
		number.MaxFractionDigits(f.digits),
	))
	if f.unit != "" {
		s += " " + f.unit
	}
	return s
}
