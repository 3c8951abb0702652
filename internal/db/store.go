package db

// scanner is an interface for row scanning (pgx.Rows, etc.)
type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}
