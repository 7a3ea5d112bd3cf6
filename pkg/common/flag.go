package common

import (
	"fmt"
	"strconv"

	"github.com/levenlabs/go-lflag"
)

// Float64Flag registers a float64 flag through its string form, since lflag
// has no float64 param type. The value is parsed when flags are resolved; an
// invalid value panics at startup like any other misconfiguration.
func Float64Flag(name string, def float64, usage string) *float64 {
	s := lflag.String(name, strconv.FormatFloat(def, 'f', -1, 64), usage)
	v := new(float64)
	lflag.Do(func() {
		*v = mustParseFloat(name, *s)
	})
	return v
}

func mustParseFloat(name, value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid value for -%s: %q is not a number", name, value))
	}
	return f
}
