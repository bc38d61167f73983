// Package nlog is distzero's logger: timestamped, severity-leveled, safe for
// concurrent use by the simulated-time node loop and by the machine's network
// goroutines alike.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu     sync.Mutex
	out    = os.Stderr
	title  string
	role   string
	minSev = sevInfo
)

func sevLetter(s severity) byte {
	switch s {
	case sevWarn:
		return 'W'
	case sevErr:
		return 'E'
	default:
		return 'I'
	}
}

func log(sev severity, format string, args ...any) {
	if sev < minSev {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().Format("15:04:05.000000")
	prefix := fmt.Sprintf("%c %s ", sevLetter(sev), now)
	if title != "" {
		prefix += title + " "
	}
	if role != "" {
		prefix += "[" + role + "] "
	}
	var msg string
	if format == "" {
		msg = fmt.Sprintln(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
		if len(msg) == 0 || msg[len(msg)-1] != '\n' {
			msg += "\n"
		}
	}
	fmt.Fprint(out, prefix, msg)
}

// SetRole tags every subsequent log line with a short role/node identifier,
// e.g. the id of the machine emitting it.
func SetRole(r string)  { role = r }
func SetTitle(s string) { title = s }

// SetQuiet raises the minimum severity to warning, suppressing Infof/Infoln.
func SetQuiet(quiet bool) {
	if quiet {
		minSev = sevWarn
	} else {
		minSev = sevInfo
	}
}

func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Warningln(args ...any)               { log(sevWarn, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }
func Errorln(args ...any)                 { log(sevErr, "", args...) }
