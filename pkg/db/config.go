package db

// Config holds the connection parameters Dialect needs. Pool tuning lives on
// the main application config; it applies after the dialector opened.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}
