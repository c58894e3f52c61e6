package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLoggerTo(Config{Level: "warn"}, &buf), "sizing")

	logger.Info().Msg("dropped")
	logger.Warn().Str("symbol", "BTCUSDT").Msg("kept")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("日志应为单行 JSON: %v (%q)", err, buf.String())
	}
	if line["component"] != "sizing" || line["symbol"] != "BTCUSDT" || line["message"] != "kept" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{}, &buf)
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("默认级别应为 info，实际输出: %q", buf.String())
	}
}
