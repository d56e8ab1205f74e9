package iface

// Logger is an interface to the logger the client, its connection
// source, and (optionally) its driver connections write to.
type Logger interface {
	// Printf logs a message. Arguments should be handled in the manner of fmt.Printf.
	Printf(format string, args ...interface{})
}
