package httpapi

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseRequestLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.Disabled,
		"off":   zerolog.Disabled,
		"error": zerolog.ErrorLevel,
		"info":  zerolog.InfoLevel,
		"DEBUG": zerolog.DebugLevel,
		"1":     zerolog.DebugLevel,
		"weird": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseRequestLevel(in); got != want {
			t.Fatalf("parseRequestLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLevel(r); got != zerolog.DebugLevel {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLevel(r); got != zerolog.ErrorLevel {
		t.Fatalf("header override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x?log=off", nil)
	r.Header.Set("X-Log-Level", "debug")
	if got := requestLevel(r); got != zerolog.Disabled {
		t.Fatalf("query must win over header: %v", got)
	}
}

func TestProgressLineWriter_SplitsLines(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())

	lw := &progressLineWriter{id: "a"}
	_, _ = lw.Write([]byte("{\"n\":1}\n{\"n\":"))
	_, _ = lw.Write([]byte("2}\n\n{\"n\":3}\n"))

	out := buf.String()
	if got := strings.Count(out, `"message":"progress"`); got != 3 {
		t.Fatalf("expected 3 logged lines, got %d: %q", got, out)
	}
	for _, want := range []string{`"progress":{"n":1}`, `"progress":{"n":2}`, `"progress":{"n":3}`, `"artifact":"a"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
}
