package obs

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	mu           sync.Mutex
	base         = log.New(os.Stdout, "", 0)
	debugEnabled atomic.Bool
)

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) { debugEnabled.Store(v) }

// SetOutput redirects all log lines to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	base.SetOutput(w)
	mu.Unlock()
}

// Fields carries structured key/values attached to a log line.
type Fields map[string]any

func logWith(level, msg string, f Fields) {
	line := make(Fields, len(f)+3)
	for k, v := range f {
		line[k] = v
	}
	line["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	line["level"] = level
	line["msg"] = msg
	b, err := json.Marshal(line)
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		base.Printf("{\"level\":\"error\",\"msg\":\"log marshal failure\",\"err\":%q}", err.Error())
		return
	}
	base.Println(string(b))
}

func Info(msg string, f Fields)  { logWith("info", msg, f) }
func Warn(msg string, f Fields)  { logWith("warn", msg, f) }
func Error(msg string, f Fields) { logWith("error", msg, f) }
func Debug(msg string, f Fields) {
	if debugEnabled.Load() {
		logWith("debug", msg, f)
	}
}
