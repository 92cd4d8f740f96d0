package core

// Logger is implemented by every logging backend of the app.
// args may hold errors, extra data maps and the user.User on whose behalf the log happens.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
