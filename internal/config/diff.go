package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LanguagesChanged bool           // true if any language entry was added, removed, or modified
	LanguageChanges  []LanguageDiff // per-language diffs
	LogLevelChanged  bool
	NewLogLevel      LogLevel
}

// LanguageDiff describes what changed for a single language between two
// configs.
type LanguageDiff struct {
	Code           string
	VoiceChanged   bool
	SpeedChanged   bool
	GreetingChange bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build language lookup maps keyed by code.
	oldLangs := make(map[string]*LanguageConfig, len(old.Languages))
	for i := range old.Languages {
		oldLangs[old.Languages[i].Code] = &old.Languages[i]
	}
	newLangs := make(map[string]*LanguageConfig, len(new.Languages))
	for i := range new.Languages {
		newLangs[new.Languages[i].Code] = &new.Languages[i]
	}

	// Detect modified and removed languages.
	for code, oldLang := range oldLangs {
		newLang, exists := newLangs[code]
		if !exists {
			d.LanguageChanges = append(d.LanguageChanges, LanguageDiff{
				Code:    code,
				Removed: true,
			})
			d.LanguagesChanged = true
			continue
		}
		ld := diffLanguage(code, oldLang, newLang)
		if ld.VoiceChanged || ld.SpeedChanged || ld.GreetingChange {
			d.LanguageChanges = append(d.LanguageChanges, ld)
			d.LanguagesChanged = true
		}
	}

	// Detect added languages.
	for code := range newLangs {
		if _, exists := oldLangs[code]; !exists {
			d.LanguageChanges = append(d.LanguageChanges, LanguageDiff{
				Code:  code,
				Added: true,
			})
			d.LanguagesChanged = true
		}
	}

	return d
}

// diffLanguage compares two language configs with the same code.
func diffLanguage(code string, old, new *LanguageConfig) LanguageDiff {
	ld := LanguageDiff{Code: code}

	if old.VoiceID != new.VoiceID {
		ld.VoiceChanged = true
	}
	if old.SpeedFactor != new.SpeedFactor {
		ld.SpeedChanged = true
	}
	if old.Greeting != new.Greeting {
		ld.GreetingChange = true
	}

	return ld
}
