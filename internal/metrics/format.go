package metrics

import "strconv"

func fmtUint(v uint64) string  { return strconv.FormatUint(v, 10) }
func fmtInt(v int) string      { return strconv.Itoa(v) }
func fmtInt64(v int64) string  { return strconv.FormatInt(v, 10) }
func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
func fmtBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
