/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration_test

import (
	"testing"

	"github.com/koreiklein/distzero/migration"
	"github.com/koreiklein/distzero/node"
)

func TestProxySpawnerFinishesOnceEveryOldKidReports(t *testing.T) {
	p := migration.NewProxySpawner(node.Handle{NodeID: "link-proxy"}, "data-proxy", []string{"k0", "k1", "k2"})

	if p.SpawnedAKid("k0") {
		t.Fatal("expected not finished after only 1 of 3 kids reported")
	}
	if p.SpawnedAKid("k1") {
		t.Fatal("expected not finished after only 2 of 3 kids reported")
	}
	if !p.SpawnedAKid("k2") {
		t.Fatal("expected finished once all 3 kids reported")
	}
}

func TestProxySpawnerFinishesWhenRemainingKidsLeaveEarly(t *testing.T) {
	p := migration.NewProxySpawner(node.Handle{NodeID: "link-proxy"}, "data-proxy", []string{"k0", "k1"})

	if p.SpawnedAKid("k0") {
		t.Fatal("expected not finished yet")
	}
	if !p.LostAKid("k1") {
		t.Fatal("expected losing the last outstanding kid to finish the bump")
	}
}
