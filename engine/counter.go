package engine

// AddCounter adds delta to cur (nil means absent, counted as zero) for the
// numeric value types counters support. ok=false when V has no integer
// interpretation.
func AddCounter[V any](cur *V, delta int64) (next V, ok bool) {
	switch p := any(&next).(type) {
	case *int:
		var base int
		if cur != nil {
			base = any(*cur).(int)
		}
		*p = base + int(delta)
	case *int64:
		var base int64
		if cur != nil {
			base = any(*cur).(int64)
		}
		*p = base + delta
	case *uint64:
		var base uint64
		if cur != nil {
			base = any(*cur).(uint64)
		}
		*p = base + uint64(delta)
	case *float64:
		var base float64
		if cur != nil {
			base = any(*cur).(float64)
		}
		*p = base + float64(delta)
	default:
		return next, false
	}
	return next, true
}

// CounterValue reports v as an int64 for the same types AddCounter accepts.
func CounterValue[V any](v V) (int64, bool) {
	switch n := any(v).(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
