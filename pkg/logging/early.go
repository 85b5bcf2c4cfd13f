package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog covers the window before the real logger exists: config loading,
// flag parsing, anything in main before Initialize.
type EarlyLog struct {
	out io.Writer
	err io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stdout, err: os.Stderr}
}

func (l *EarlyLog) write(w io.Writer, level, msg string, args ...interface{}) {
	fmt.Fprintf(w, level+": "+msg+"\n", args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write(l.out, "INFO", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write(l.err, "WARN", msg, args...)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write(l.err, "ERROR", msg, args...)
	os.Exit(1)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write(l.err, "FATAL", msg, args...)
	os.Exit(1)
}
