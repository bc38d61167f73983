/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Every distzero id is a short opaque string: a human-readable prefix
// ("ds", "ln", "imp", "mig", ...) identifying the kind of thing, followed by
// a shortid tail. Prefixes make logs and wire dumps legible; the tail
// guarantees no two machines mint the same id without coordination.
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
	tie     atomic.Uint32
)

// InitIDGen must be called once at process start with a machine-unique seed
// (e.g. a hash of the machine's own id or a random value at startup).
func InitIDGen(seed uint64) {
	sidOnce.Do(func() {
		sid = shortid.MustNew(1, idABC, seed)
	})
}

// NewID mints a fresh id of the form "<prefix>-<tail>". Panics if called
// before InitIDGen; every machine entrypoint calls InitIDGen first.
func NewID(prefix string) string {
	if sid == nil {
		panic("cos.NewID: InitIDGen was not called")
	}
	return prefix + "-" + sid.MustGenerate()
}

// HashID derives a deterministic id from a stable string: two callers that
// hash the same string with the same prefix get the same id.
func HashID(prefix, stable string) string {
	digest := xxhash.ChecksumString64S(stable, 0)
	return prefix + "-" + uint64ToStr(digest)
}

func uint64ToStr(v uint64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v == 0 {
		return "0"
	}
	var buf [13]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v%36]
		v /= 36
	}
	return string(buf[i:])
}

// GenTie returns a short, cheap tie-breaker string drawn from a
// process-wide counter, for ordering two otherwise-equal candidates.
func GenTie() string {
	t := tie.Add(1)
	b0 := idABC[t&0x3f]
	b1 := idABC[(^t)&0x3f]
	return string([]byte{b0, b1})
}
