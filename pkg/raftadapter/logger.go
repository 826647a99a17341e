package raftadapter

import (
	"fmt"
	"log/slog"
	"os"
)

// raftLogger routes etcd raft logging into slog.
type raftLogger struct {
	l *slog.Logger
}

func newRaftLogger(id uint64) *raftLogger {
	return &raftLogger{l: slog.Default().With("component", "raft", "raft_id", id)}
}

func (r *raftLogger) Debug(v ...interface{})                 { r.l.Debug(fmt.Sprint(v...)) }
func (r *raftLogger) Debugf(format string, v ...interface{}) { r.l.Debug(fmt.Sprintf(format, v...)) }
func (r *raftLogger) Info(v ...interface{})                  { r.l.Info(fmt.Sprint(v...)) }
func (r *raftLogger) Infof(format string, v ...interface{})  { r.l.Info(fmt.Sprintf(format, v...)) }
func (r *raftLogger) Warning(v ...interface{})               { r.l.Warn(fmt.Sprint(v...)) }
func (r *raftLogger) Warningf(format string, v ...interface{}) {
	r.l.Warn(fmt.Sprintf(format, v...))
}
func (r *raftLogger) Error(v ...interface{})                 { r.l.Error(fmt.Sprint(v...)) }
func (r *raftLogger) Errorf(format string, v ...interface{}) { r.l.Error(fmt.Sprintf(format, v...)) }

func (r *raftLogger) Fatal(v ...interface{}) {
	r.l.Error(fmt.Sprint(v...))
	os.Exit(1)
}

func (r *raftLogger) Fatalf(format string, v ...interface{}) {
	r.l.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (r *raftLogger) Panic(v ...interface{}) {
	msg := fmt.Sprint(v...)
	r.l.Error(msg)
	panic(msg)
}

func (r *raftLogger) Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	r.l.Error(msg)
	panic(msg)
}
