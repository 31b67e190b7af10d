package proptest

// Charsets for string generation
const (
	CharsetAlpha      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CharsetAlphaLower = "abcdefghijklmnopqrstuvwxyz"
	CharsetDigits     = "0123456789"
	CharsetAlphaNum   = CharsetAlpha + CharsetDigits
	CharsetPrintable  = CharsetAlphaNum + " !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

	// CharsetSQLSpecial holds every byte the MySQL literal escaper rewrites.
	CharsetSQLSpecial = "\x00\b\t\n\r\x1a'\"\\"
)

// String returns a random printable ASCII string of length [0, maxLen].
func (g *Generator) String(maxLen int) string {
	return g.StringFrom(CharsetPrintable, maxLen)
}

// StringFrom returns a random string from charset with length [0, maxLen].
func (g *Generator) StringFrom(charset string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	return g.stringOfLen(charset, g.Intn(maxLen+1))
}

func (g *Generator) stringOfLen(charset string, length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[g.Intn(len(charset))]
	}
	return string(b)
}

// SQLString returns a string of length [0, maxLen] where roughly a third of
// the bytes need escaping inside a quoted SQL literal.
func (g *Generator) SQLString(maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	b := make([]byte, g.Intn(maxLen+1))
	for i := range b {
		if g.Intn(3) == 0 {
			b[i] = CharsetSQLSpecial[g.Intn(len(CharsetSQLSpecial))]
		} else {
			b[i] = CharsetAlphaNum[g.Intn(len(CharsetAlphaNum))]
		}
	}
	return string(b)
}

// IdentifierLower returns a valid lowercase identifier of length [1, maxLen].
func (g *Generator) IdentifierLower(maxLen int) string {
	if maxLen <= 0 {
		maxLen = 1
	}
	length := g.IntRange(1, maxLen)

	const startChars = CharsetAlphaLower + "_"
	const bodyChars = CharsetAlphaLower + CharsetDigits + "_"

	b := make([]byte, length)
	b[0] = startChars[g.Intn(len(startChars))]
	for i := 1; i < length; i++ {
		b[i] = bodyChars[g.Intn(len(bodyChars))]
	}
	return string(b)
}

// SQLValue returns a random value of a type accepted by SQL literal
// escaping: nil, bool, int64, float64, string or []byte.
func (g *Generator) SQLValue() any {
	switch g.Intn(6) {
	case 0:
		return nil
	case 1:
		return g.Bool()
	case 2:
		return g.Int64()
	case 3:
		return float64(g.IntRange(-10000, 10000)) / 100
	case 4:
		b := make([]byte, g.Intn(8))
		for i := range b {
			b[i] = byte(g.Intn(256))
		}
		return b
	default:
		return g.SQLString(20)
	}
}

// EdgeCaseString returns a string that's likely to trigger quoting edge cases.
func (g *Generator) EdgeCaseString() string {
	edgeCases := []string{
		"",
		" ",
		"'",
		"''",
		`"`,
		`\`,
		`\\`,
		`\'`,
		"it's",
		`say "hello"`,
		"line1\nline2",
		"col1\tcol2",
		"NULL",
		"日本語",
		"--",
		"/**/",
		"; DROP TABLE biaya;",
		"' OR '1'='1",
		"\x00",
		"\x1a",
	}
	if g.Float64() < 0.7 {
		return edgeCases[g.Intn(len(edgeCases))]
	}
	return g.String(50)
}

// Pick returns a random element from a non-empty slice.
func Pick[T any](g *Generator, slice []T) T {
	if len(slice) == 0 {
		panic("proptest: Pick called with empty slice")
	}
	return slice[g.Intn(len(slice))]
}

// Slice returns a slice of length [0, maxLen] filled by gen.
func Slice[T any](g *Generator, maxLen int, gen func(*Generator) T) []T {
	n := g.Intn(maxLen + 1)
	out := make([]T, n)
	for i := range out {
		out[i] = gen(g)
	}
	return out
}

// Map returns a map with up to maxSize entries. Duplicate keys collapse.
func Map[K comparable, V any](g *Generator, maxSize int, key func(*Generator) K, val func(*Generator) V) map[K]V {
	n := g.Intn(maxSize + 1)
	out := make(map[K]V, n)
	for i := 0; i < n; i++ {
		out[key(g)] = val(g)
	}
	return out
}
