package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// zlog is the HTTP layer's logger; silent until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs the structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// progressLineWriter mirrors complete NDJSON progress lines into the log.
type progressLineWriter struct {
	id  string
	buf []byte
}

func (lw *progressLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			zlog.Debug().Str("artifact", lw.id).RawJSON("progress", lw.buf[:idx]).Msg("progress")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// parseRequestLevel maps a level name to the minimum level logged for a
// request. Empty and "off" disable request logging; unknown names mean info.
func parseRequestLevel(s string) zerolog.Level {
	switch s := strings.ToLower(strings.TrimSpace(s)); s {
	case "", "off", "disabled":
		return zerolog.Disabled
	case "1":
		return zerolog.DebugLevel
	default:
		lvl, err := zerolog.ParseLevel(s)
		if err != nil || lvl == zerolog.NoLevel {
			return zerolog.InfoLevel
		}
		return lvl
	}
}

var defaultRequestLevel = parseRequestLevel(os.Getenv("ARTIFACTD_HTTP_LOG_LEVEL"))

// requestLevel honours ?log= and X-Log-Level before the process default.
func requestLevel(r *http.Request) zerolog.Level {
	if v := r.URL.Query().Get("log"); v != "" {
		return parseRequestLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseRequestLevel(v)
	}
	return defaultRequestLevel
}
