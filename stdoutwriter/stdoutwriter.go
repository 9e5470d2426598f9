package stdoutwriter

import (
	"encoding/json"

	"github.com/bartossh/Settlementis/logger"
	"github.com/pterm/pterm"
)

// Logger writes logs to the standard output colouring them by level.
type Logger struct{}

// Write satisfies io.Writer, p is expected to be JSON encoded logger.Log.
func (l Logger) Write(p []byte) (n int, err error) {
	var lg logger.Log
	if err := json.Unmarshal(p, &lg); err != nil {
		pterm.Println(string(p))
		return len(p), nil
	}
	line := lg.CreatedAt.Format("2006-01-02 15:04:05.000") + " [" + lg.Service + "] " + lg.Msg
	switch lg.Level {
	case "debug":
		pterm.Debug.Println(line)
	case "info":
		pterm.Info.Println(line)
	case "warn":
		pterm.Warning.Println(line)
	case "error":
		pterm.Error.Println(line)
	case "fatal":
		pterm.Fatal.WithFatal(false).Println(line)
	default:
		pterm.Println(line)
	}
	return len(p), nil
}
