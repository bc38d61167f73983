//go:build debug

// Package debug provides assertions compiled in only when built with `-tags debug`.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "fmt"

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Func(f func()) { f() }
