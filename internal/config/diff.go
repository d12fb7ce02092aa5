package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Lesson, learner and session changes apply to the next session; provider,
// fallback, audio and history changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LearnerChanged bool
	LessonChanged  bool
	SessionChanged bool

	// RestartRequired is set when a section that is only read at startup
	// changed.
	RestartRequired bool
	RestartSections []string
}

// Changed reports whether anything in d is set.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LearnerChanged || d.LessonChanged ||
		d.SessionChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.LearnerChanged = old.Learner != new.Learner
	d.LessonChanged = old.Lesson.Scene != new.Lesson.Scene ||
		!slices.Equal(old.Lesson.Words, new.Lesson.Words)
	d.SessionChanged = old.Session != new.Session

	if old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartSections = append(d.RestartSections, "server.metrics_addr")
	}
	if !providerEqual(old.Provider, new.Provider) {
		d.RestartSections = append(d.RestartSections, "provider")
	}
	if !slices.EqualFunc(old.FallbackProviders, new.FallbackProviders, providerEqual) || old.Failover != new.Failover {
		d.RestartSections = append(d.RestartSections, "fallback_providers")
	}
	if old.Audio != new.Audio {
		d.RestartSections = append(d.RestartSections, "audio")
	}
	if old.History != new.History {
		d.RestartSections = append(d.RestartSections, "history")
	}
	d.RestartRequired = len(d.RestartSections) > 0

	return d
}

// providerEqual compares two entries. Option values are compared only when
// they are comparable scalars; nested maps always count as changed.
func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Voice != b.Voice {
		return false
	}
	return maps.EqualFunc(a.Options, b.Options, func(x, y any) bool {
		switch x.(type) {
		case string, bool, int, int64, float64, nil:
			return x == y
		}
		return false
	})
}
