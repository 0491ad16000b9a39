// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package logger

import "github.com/aristanetworks/glog"

// Glog implements Logger by forwarding to aristanetworks/glog, the
// backend every collector binary constructs at startup and injects
// into its connectors, sinks and supervisor; nothing in this module
// calls glog directly.
type Glog struct {
	// InfoLevel gates Info/Infof behind `-v` the way glog.V does;
	// the zero value logs at V(0).
	InfoLevel glog.Level
}

// Info logs at the info level.
func (g *Glog) Info(args ...interface{}) {
	glog.V(g.InfoLevel).Info(args...)
}

// Infof logs at the info level, with format.
func (g *Glog) Infof(format string, args ...interface{}) {
	glog.V(g.InfoLevel).Infof(format, args...)
}

// Error logs at the error level.
func (g *Glog) Error(args ...interface{}) {
	glog.Error(args...)
}

// Errorf logs at the error level, with format.
func (g *Glog) Errorf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}

// Fatal logs at the fatal level.
func (g *Glog) Fatal(args ...interface{}) {
	glog.Fatal(args...)
}

// Fatalf logs at the fatal level, with format.
func (g *Glog) Fatalf(format string, args ...interface{}) {
	glog.Fatalf(format, args...)
}
