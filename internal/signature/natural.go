package signature

// naturalLess compares two strings treating runs of ASCII digits as numbers,
// so "field2" sorts before "field10". Inputs are expected to be lower-cased.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]

		if isDigit(ca) && isDigit(cb) {
			si := i
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			sj := j
			for j < len(b) && isDigit(b[j]) {
				j++
			}

			if c := compareNumeric(a[si:i], b[sj:j]); c != 0 {
				return c < 0
			}
			continue
		}

		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}

	return len(a)-i < len(b)-j
}

// compareNumeric compares two digit runs by value without overflowing.
// Runs with equal value but different zero padding compare shorter first.
func compareNumeric(x, y string) int {
	tx, ty := trimZeros(x), trimZeros(y)
	switch {
	case len(tx) != len(ty):
		return sign(len(tx) - len(ty))
	case tx != ty:
		if tx < ty {
			return -1
		}
		return 1
	default:
		return sign(len(x) - len(y))
	}
}

func trimZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
