package app

import (
	"fmt"
	"strings"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/rs/zerolog"

	"alert-trader/internal/config"
)

// pyroscopeLogger 把 pyroscope 的日志接到 zerolog。
type pyroscopeLogger struct {
	logger zerolog.Logger
}

func (l pyroscopeLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l pyroscopeLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l pyroscopeLogger) Errorf(format string, args ...interface{}) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// startProfiling returns a no-op stop func when profiling is disabled.
func startProfiling(cfg config.ProfilingConfig, logger zerolog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          pyroscopeLogger{logger: logger.With().Str("component", "pyroscope").Logger()},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}
	logger.Info().Str("server", cfg.ServerAddress).Str("application", cfg.ApplicationName).Msg("continuous profiling enabled")
	return func() {
		if err := profiler.Stop(); err != nil {
			logger.Warn().Err(err).Msg("failed to stop profiler")
		}
	}, nil
}
