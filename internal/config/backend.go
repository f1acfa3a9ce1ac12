package config

// ConfigBackend is where non-secret settings live: macOS user defaults
// (com.nyaysaathi.app) or a JSON file under XDG_CONFIG_HOME elsewhere.
// Keys are the dotted names from the specs table. Secrets never go here.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete removes key; a missing key is not an error.
	Delete(key string) error
}
