package logging

import (
    "os"

    "github.com/op/go-logging"
)

var Log = logging.MustGetLogger("rebuildingsupervisor")

func init() {
    var format = logging.MustStringFormatter(`%{color}%{time:15:04:05.000} ▶ %{level:.4s} %{shortfile}%{color:reset} %{message}`)
    var backend = logging.NewLogBackend(os.Stdout, "", 0)
    backendFormatter := logging.NewBackendFormatter(backend, format)

    logging.SetBackend(backendFormatter)
}

// SetLoggingLevel sets the minimum severity of log messages that get
// written to the backend. An empty or unrecognized level leaves the
// current level in place (go-logging's default is DEBUG).
func SetLoggingLevel(level string) {
    switch level {
    case "debug":
        logging.SetLevel(logging.DEBUG, "rebuildingsupervisor")
    case "info":
        logging.SetLevel(logging.INFO, "rebuildingsupervisor")
    case "notice":
        logging.SetLevel(logging.NOTICE, "rebuildingsupervisor")
    case "warning":
        logging.SetLevel(logging.WARNING, "rebuildingsupervisor")
    case "error":
        logging.SetLevel(logging.ERROR, "rebuildingsupervisor")
    case "critical":
        logging.SetLevel(logging.CRITICAL, "rebuildingsupervisor")
    }
}
