//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

// Package gossiper is the supervisor's view onto the failure
// detector. It does not implement gossip transport itself (out of
// scope per the spec) -- it only exposes the per-node health digest
// that the transport layer maintains.
package gossiper

import (
    "time"
)

// NodeHealth is the externally-observable state of one node as seen
// by the local failure detector.
type NodeHealth int

const (
    Alive NodeHealth = iota
    Dead
    Suspect
)

func (h NodeHealth) String() string {
    switch h {
    case Alive:
        return "ALIVE"
    case Dead:
        return "DEAD"
    case Suspect:
        return "SUSPECT"
    }

    return "UNKNOWN"
}

// Digest is one node's current health entry plus the gossip counter
// that last updated it.
type Digest struct {
    NodeIndex     uint16
    Health        NodeHealth
    GossipCounter uint64
    LastGossipAt  time.Time
}

// View is the read-only snapshot the supervisor consumes each tick.
// It is produced by whatever gossip transport is wired in; this
// package only defines the contract.
type View interface {
    // Digests returns the latest known digest for every node this
    // failure detector has ever heard from.
    Digests() map[uint16]Digest
    // ReachablePeerCount returns how many distinct peers this node
    // has exchanged gossip with inside the last gossip interval. Used
    // to derive the ISOLATED_SELF self-diagnosis.
    ReachablePeerCount() int
}

// StaticView is a simple in-memory View implementation, useful for
// tests and for wiring a non-gossip transport.
type StaticView struct {
    digests            map[uint16]Digest
    reachablePeerCount int
}

func NewStaticView() *StaticView {
    return &StaticView{
        digests: make(map[uint16]Digest),
    }
}

func (v *StaticView) Set(nodeIndex uint16, health NodeHealth) {
    existing, ok := v.digests[nodeIndex]
    counter := uint64(1)

    if ok {
        counter = existing.GossipCounter + 1
    }

    v.digests[nodeIndex] = Digest{
        NodeIndex:     nodeIndex,
        Health:        health,
        GossipCounter: counter,
        LastGossipAt:  time.Now(),
    }
}

func (v *StaticView) SetReachablePeerCount(n int) {
    v.reachablePeerCount = n
}

func (v *StaticView) Digests() map[uint16]Digest {
    digests := make(map[uint16]Digest, len(v.digests))

    for nodeIndex, digest := range v.digests {
        digests[nodeIndex] = digest
    }

    return digests
}

func (v *StaticView) ReachablePeerCount() int {
    return v.reachablePeerCount
}
