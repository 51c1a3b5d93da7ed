package session

import "github.com/matheus3301/lensdm/internal/config"

// DefaultSessionName is used when neither the flag nor config names one.
const DefaultSessionName = "main"

// Resolve picks the session name: the --session flag, then default_session
// from config.toml, then DefaultSessionName. An unreadable or invalid
// config falls through to the default.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err != nil || cfg.DefaultSession == "" {
		return DefaultSessionName
	}
	return cfg.DefaultSession
}
