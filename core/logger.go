package core

// Logger is any leveled logging service.
// Implementations may inspect args for well-known types (eg. a user) to enrich reports.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Alerter is a fire-and-forget sink for user-facing messages (the UI toast surface).
// It is only ever written to, never queried.
type Alerter interface {
	Alert(msg string)
}

// NopAlerter discards alerts.
type NopAlerter struct{}

func (NopAlerter) Alert(string) {}

// LogAlerter reports alerts through the logger; used where no UI surface is attached.
type LogAlerter struct {
	Logger Logger
}

func (a LogAlerter) Alert(msg string) { a.Logger.Warn(msg) }
