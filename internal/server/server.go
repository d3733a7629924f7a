package server

// Server is a long-running network endpoint with a start/stop lifecycle.
type Server interface {
	Start() error
	Stop() error
	Address() string
}
