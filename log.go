package preheat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"endobit.io/app/log"
)

// mqttLogger receives the paho client's internal logging. It is package global
// because the paho loggers are.
var mqttLogger = slog.New(slog.DiscardHandler)

func logf(level slog.Level, format string, v ...any) {
	msg := strings.Trim(fmt.Sprintf(format, v...), "[]")
	mqttLogger.Log(context.Background(), level, msg, "component", "mqtt")
}

func logln(level slog.Level, v ...any) {
	var comp string

	if len(v) > 1 {
		comp = strings.Trim(strings.TrimSpace(fmt.Sprint(v[0])), "[]")
		v = v[1:]
	}

	msg := strings.Trim(fmt.Sprint(v...), "[]")
	mqttLogger.Log(context.Background(), level, msg, "component", comp)
}

type (
	dbg struct{}
	wrn struct{}
	erl struct{}
)

func (dbg) Printf(format string, v ...any) { logf(log.LevelTrace, format, v...) }
func (dbg) Println(v ...any)               { logln(log.LevelTrace, v...) }

func (wrn) Printf(format string, v ...any) { logf(slog.LevelWarn, format, v...) }
func (wrn) Println(v ...any)               { logln(slog.LevelWarn, v...) }

func (erl) Printf(format string, v ...any) { logf(slog.LevelError, format, v...) }
func (erl) Println(v ...any)               { logln(slog.LevelError, v...) }

func init() {
	mqtt.ERROR = erl{}
	mqtt.CRITICAL = erl{}
	mqtt.WARN = wrn{}
	mqtt.DEBUG = dbg{}
}
