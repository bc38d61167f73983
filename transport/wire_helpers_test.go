/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import "github.com/koreiklein/distzero/wire"

func incrementEnvelope(amount int64) wire.Envelope {
	env, err := wire.Encode(wire.KindIncrement, struct {
		Amount int64 `json:"amount"`
	}{amount})
	if err != nil {
		panic(err)
	}
	return env
}
