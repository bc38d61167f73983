/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package migration

import "github.com/koreiklein/distzero/node"

// ProxySpawner is the link-side reaction to an adjacent dataset bumping
// its own height (spec.md §4.3's bump-height trigger): rather than
// waiting for the dataset's new root proxy to grow a full subtree before
// any data can flow through it, the link node spawns its own proxy
// immediately, adjacent to the dataset's, and re-homes the dataset's old
// kids onto it as they report in. Grounded in
// connector/proxy_spawner.py's ProxySpawner.
type ProxySpawner struct {
	node node.Handle

	proxyAdjacentID string
	oldKids         map[string]struct{}
	kidToFinish     map[string]struct{}
}

// NewProxySpawner begins tracking a height bump: adjacentProxy is the
// dataset's newly spawned root proxy, oldKidIDs the kids it is
// absorbing (each of which must report a fresh hello_parent here before
// the bump is considered finished).
func NewProxySpawner(self node.Handle, adjacentProxyID string, oldKidIDs []string) *ProxySpawner {
	old := make(map[string]struct{}, len(oldKidIDs))
	for _, id := range oldKidIDs {
		old[id] = struct{}{}
	}
	return &ProxySpawner{
		node:            self,
		proxyAdjacentID: adjacentProxyID,
		oldKids:         old,
		kidToFinish:     make(map[string]struct{}, len(oldKidIDs)),
	}
}

// SpawnedAKid records that kidID (one of the dataset's old kids) has
// reported its new adjacent handle now that it has been reparented
// under the proxy; returns true once every old kid has reported in and
// the bump is finished.
func (p *ProxySpawner) SpawnedAKid(kidID string) bool {
	p.kidToFinish[kidID] = struct{}{}
	return p.finished()
}

// LostAKid records that kidID departed before finishing its bump (it was
// merged away by the time the proxy came up); returns true if this
// completes the bump.
func (p *ProxySpawner) LostAKid(kidID string) bool {
	if _, ok := p.oldKids[kidID]; ok {
		delete(p.oldKids, kidID)
		return p.finished()
	}
	return false
}

// AdjacentProxyID is the id of the dataset's new root proxy this spawner
// is attaching its own link-side proxy next to.
func (p *ProxySpawner) AdjacentProxyID() string { return p.proxyAdjacentID }

func (p *ProxySpawner) finished() bool {
	if len(p.kidToFinish) < len(p.oldKids) {
		return false
	}
	for id := range p.oldKids {
		if _, ok := p.kidToFinish[id]; !ok {
			return false
		}
	}
	return true
}
