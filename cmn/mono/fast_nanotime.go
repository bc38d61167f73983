// Package mono provides low-level monotonic time used for log timestamps
// and for cheap elapsed-time bookkeeping outside of the simulated node clock.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds since process start on a monotonic clock.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
