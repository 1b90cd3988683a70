package sqlite

// DefaultPath is the database file used when none is configured.
const DefaultPath = "todoapi.db"

// Config holds SQLite settings.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in memory
	// for the lifetime of the store.
	Path string
}

func (c *Config) defaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
}
