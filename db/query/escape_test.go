package query_test

import (
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifast/minifast/db/query"
	"github.com/minifast/minifast/proptest"
)

func TestEscape(t *testing.T) {
	var nilPtr *int
	n := 42
	ts := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"nil pointer", nilPtr, "NULL"},
		{"pointer", &n, "42"},
		{"true", true, "1"},
		{"false", false, "0"},
		{"int", 7, "7"},
		{"int8", int8(-3), "-3"},
		{"uint", uint(9), "9"},
		{"int64", int64(-12), "-12"},
		{"float", 1.5, "1.5"},
		{"json number", json.Number("12.50"), "12.50"},
		{"plain string", "sewa", "'sewa'"},
		{"single quote", "it's", `'it\'s'`},
		{"double quote", `say "hi"`, `'say \"hi\"'`},
		{"backslash", `a\b`, `'a\\b'`},
		{"control chars", "a\x00b\nc\rd\te\bf\x1a", `'a\0b\nc\rd\te\bf\Z'`},
		{"injection attempt", "' OR '1'='1", `'\' OR \'1\'=\'1'`},
		{"bytes", []byte{0xde, 0xad}, "X'dead'"},
		{"nil bytes", []byte(nil), "NULL"},
		{"time", ts, "'2024-03-05 07:08:09'"},
		{"time with micros", ts.Add(1500 * time.Microsecond), "'2024-03-05 07:08:09.001500'"},
		{"int slice", []int{1, 2, 3}, "(1, 2, 3)"},
		{"mixed slice", []any{"a", nil, true}, "('a', NULL, 1)"},
		{"valid null string", sql.NullString{String: "x", Valid: true}, "'x'"},
		{"invalid null string", sql.NullString{}, "NULL"},
		{"named string type", query.Raw("raw"), "'raw'"},
		{"NaN", math.NaN(), "NULL"},
		{"infinity", math.Inf(1), "NULL"},
		{"float32 infinity", float32(math.Inf(-1)), "NULL"},
		{"raw json", json.RawMessage(`ab`), "X'6162'"},
		{"byte array", [2]byte{0xbe, 0xef}, "X'beef'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, query.Escape(tt.in))
		})
	}
}

// unescape reverses the literal escaping for property checks.
func unescape(lit string) string {
	body := lit[1 : len(lit)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] != '\\' {
			b.WriteByte(body[i])
			continue
		}
		i++
		switch body[i] {
		case '0':
			b.WriteByte(0)
		case 'b':
			b.WriteByte('\b')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'Z':
			b.WriteByte(0x1a)
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

func TestEscapeStringProperties(t *testing.T) {
	proptest.ForAll(t, "escaped string round-trips", 300, func(g *proptest.Generator) (string, bool) {
		s := g.SQLString(40)
		if g.Intn(4) == 0 {
			s = g.EdgeCaseString()
		}
		lit := query.Escape(s)
		if len(lit) < 2 || lit[0] != '\'' || lit[len(lit)-1] != '\'' {
			return s, false
		}
		return s, unescape(lit) == s
	})

	proptest.ForAll(t, "no unescaped quote inside literal", 300, func(g *proptest.Generator) (string, bool) {
		s := g.SQLString(40)
		body := query.Escape(s)
		body = body[1 : len(body)-1]
		for i := 0; i < len(body); i++ {
			if body[i] == '\\' {
				i++
				continue
			}
			if body[i] == '\'' {
				return s, false
			}
		}
		return s, true
	})
}

func TestParse(t *testing.T) {
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`["deleted = 0", ["idBiaya", 5], ["jumlah", "<", 100]]`), &decoded))

	cond, err := query.Parse(decoded)
	require.NoError(t, err)
	assert.Equal(t, "(deleted = 0 AND idBiaya = 5 AND jumlah < 100)", query.Compile(cond))

	cond, err = query.Parse(map[string]any{"b": "x", "a": nil})
	require.NoError(t, err)
	assert.Equal(t, "(a = NULL AND b = 'x')", query.Compile(cond))

	cond, err = query.Parse("a = 1")
	require.NoError(t, err)
	assert.Equal(t, "(a = 1)", query.Compile(cond))

	cond, err = query.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "", query.Compile(cond))

	for _, bad := range []any{
		42,
		[]any{[]any{"only-one"}},
		[]any{[]any{1, 2}},
		[]any{[]any{"a", 3, 4}},
		[]any{true},
	} {
		_, err := query.Parse(bad)
		assert.ErrorIs(t, err, query.ErrBadCondition, "input %v", bad)
	}
}
