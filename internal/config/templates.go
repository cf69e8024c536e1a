package config

import (
	"fmt"
	"os"
)

// Template returns a commented example configuration.
func Template() string { return workerTemplate }

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(workerTemplate), 0o600)
}

const workerTemplate = `# zmqport worker configuration. Every key is optional.

# trace|debug|info|warn|error|disabled; logs go to stderr.
log_level = "info"

# Upper bound on live socket handles.
max_sockets = 999999

# Serve Prometheus metrics on this address; empty disables the listener.
metrics_addr = ""

# zmq (network sockets) or memory (in-process, for tests).
backend = "zmq"

# Socket read/write timeout; "0s" keeps the library default.
timeout = "0s"

# First delay between background connect attempts; later ones back off up to 5s.
dial_retry = "250ms"

# Whole messages buffered per socket ahead of the parent reading them.
inbox_size = 1024
`
