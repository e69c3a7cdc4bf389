package vcbana

import (
	"fmt"
	"strconv"
	"strings"
)

// FloatArrayFlags is a repeatable float flag. Values given on the command
// line replace the defaults instead of extending them.
type FloatArrayFlags struct {
	Array   []float64
	beenSet bool
}

func (f *FloatArrayFlags) Set(valueStr string) error {
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return err
	}

	if !f.beenSet {
		f.beenSet = true
		f.Array = nil
	}

	f.Array = append(f.Array, value)
	return nil
}

func (f *FloatArrayFlags) String() string {
	return fmt.Sprint(f.Array)
}

// StringArrayFlags is the string counterpart of FloatArrayFlags. A single
// value may also hold a comma separated list.
type StringArrayFlags struct {
	Array   []string
	beenSet bool
}

func (f *StringArrayFlags) Set(valueStr string) error {
	if !f.beenSet {
		f.beenSet = true
		f.Array = nil
	}

	for _, v := range strings.Split(valueStr, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		f.Array = append(f.Array, v)
	}
	return nil
}

func (f *StringArrayFlags) String() string {
	return strings.Join(f.Array, ",")
}
