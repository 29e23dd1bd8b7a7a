package server

import (
	"net/url"
	"os"
)

// dbDSNFromEnv builds the Postgres DSN the default stores connect with.
// DATABASE_URL wins outright; otherwise the DSN is assembled from the DB_*
// variables with local-development defaults.
func dbDSNFromEnv() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	part := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(part("DB_USER", "app"), part("DB_PASSWORD", "app")),
		Host:     part("DB_HOST", "127.0.0.1") + ":" + part("DB_PORT", "5432"),
		Path:     "/" + part("DB_NAME", "gridlume"),
		RawQuery: url.Values{"sslmode": {part("DB_SSLMODE", "disable")}}.Encode(),
	}
	return u.String()
}
