package pricing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/shopspring/decimal"
)

// DisplayLocale is the locale amounts are rendered in for notifications.
var DisplayLocale = language.MustParse("es-AR")

// Format renders an amount for people, rounded to cents and grouped per locale.
func Format(tag language.Tag, d decimal.Decimal) string {
	f, _ := Round2(d).Float64()
	return message.NewPrinter(tag).Sprintf("%.2f", f)
}
