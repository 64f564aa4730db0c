// Package capability builds and publishes the read-only capability index:
// the map from a tool name, resource URI, or prompt name to the backend
// that currently owns it (spec §3, §4.D). The index is rebuilt whenever
// the health monitor reports a capability-affecting change and is read
// lock-free via an atomic pointer swap, so a rebuild in progress never
// blocks a request being routed against the previous table.
package capability

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/saxyguy81/mcp-hub/pkg/logger"
	"github.com/saxyguy81/mcp-hub/pkg/mcphub"
)

// ConflictKind identifies which capability namespace a collision
// occurred in, for metrics labeling.
type ConflictKind string

const (
	ConflictTool     ConflictKind = "tool"
	ConflictResource ConflictKind = "resource"
	ConflictPrompt   ConflictKind = "prompt"
)

// Conflict describes one capability-key collision resolved during a
// rebuild: two or more healthy backends advertised the same key, and the
// backend with the earliest InitializedAt won (spec §4.D).
type Conflict struct {
	Kind   ConflictKind
	Key    string
	Winner string
	Loser  string
}

// OnConflict is invoked once per losing backend for every collision
// encountered during a rebuild. Implementations typically increment the
// capability_conflicts_total counter (spec §7).
type OnConflict func(Conflict)

// Index holds the currently published RoutingTable and rebuilds it from
// registry snapshots.
type Index struct {
	table      atomic.Pointer[mcphub.RoutingTable]
	onConflict OnConflict
}

// New returns an Index publishing an empty table until the first
// Rebuild.
func New(onConflict OnConflict) *Index {
	idx := &Index{onConflict: onConflict}
	idx.table.Store(mcphub.NewEmptyRoutingTable())
	return idx
}

// Table returns the currently published routing table. Safe to call
// concurrently with Rebuild; never blocks.
func (idx *Index) Table() *mcphub.RoutingTable {
	return idx.table.Load()
}

// owner tracks, for one capability key, which backend currently owns it
// and when that backend was first initialized — the tiebreaker spec §4.D
// specifies for simultaneous capability collisions.
type owner struct {
	backend       string
	initializedAt time.Time
}

// Rebuild recomputes the routing table from the given backend snapshots
// and atomically publishes it, replacing whatever was published before.
// Only snapshots in StateHealthy with non-nil Capabilities contribute;
// everything else is excluded from the index, per spec §4.D. It returns
// the number of collisions resolved during this rebuild.
func (idx *Index) Rebuild(snapshots []mcphub.BackendSnapshot) int {
	tools := make(map[string]owner)
	resources := make(map[string]owner)
	prompts := make(map[string]owner)
	conflicts := 0

	for _, snap := range snapshots {
		if snap.State != mcphub.StateHealthy || snap.Capabilities == nil {
			continue
		}
		for _, t := range snap.Capabilities.Tools {
			if idx.claim(tools, t.Name, snap, ConflictTool) {
				conflicts++
			}
		}
		for _, r := range snap.Capabilities.Resources {
			if idx.claim(resources, r.URI, snap, ConflictResource) {
				conflicts++
			}
		}
		for _, p := range snap.Capabilities.Prompts {
			if idx.claim(prompts, p.Name, snap, ConflictPrompt) {
				conflicts++
			}
		}
	}

	table := mcphub.NewEmptyRoutingTable()
	for k, o := range tools {
		table.ToolOwner[k] = o.backend
	}
	for k, o := range resources {
		table.ResourceOwner[k] = o.backend
	}
	for k, o := range prompts {
		table.PromptOwner[k] = o.backend
	}
	table.Tools, table.Resources, table.Prompts = mergedCapabilityLists(snapshots, table)

	idx.table.Store(table)
	logger.Infow("capability index rebuilt",
		"tools", len(table.ToolOwner), "resources", len(table.ResourceOwner),
		"prompts", len(table.PromptOwner), "conflicts", conflicts)
	return conflicts
}

// claim assigns key to snap's backend if unclaimed, or resolves a
// collision in favor of whichever backend was initialized first. It
// reports whether a collision occurred (true whenever a different backend
// already holds the key, even when the incumbent retains ownership).
func (idx *Index) claim(owners map[string]owner, key string, snap mcphub.BackendSnapshot, kind ConflictKind) bool {
	if key == "" {
		return false
	}
	existing, taken := owners[key]
	if !taken {
		owners[key] = owner{backend: snap.Name, initializedAt: snap.InitializedAt}
		return false
	}

	// Earliest InitializedAt wins; a backend re-claiming its own key
	// (e.g. two tools list entries with the same name from one backend)
	// is not a cross-backend collision.
	if existing.backend == snap.Name {
		return false
	}

	winner, loser := existing, owner{backend: snap.Name, initializedAt: snap.InitializedAt}
	if snap.InitializedAt.Before(existing.initializedAt) {
		winner, loser = loser, winner
		owners[key] = winner
	}

	if idx.onConflict != nil {
		idx.onConflict(Conflict{Kind: kind, Key: key, Winner: winner.backend, Loser: loser.backend})
	}
	return true
}

// mergedCapabilityLists walks the same healthy snapshots Rebuild already
// consulted, ordered by InitializedAt ascending (oldest first), and emits
// one capability object per winning owner in that order, so the aggregate
// tools/list, resources/list, and prompts/list responses are ordered the
// same way the index itself resolves collisions (spec §4.D, §4.F.2).
func mergedCapabilityLists(snapshots []mcphub.BackendSnapshot, table *mcphub.RoutingTable) ([]mcphub.Tool, []mcphub.Resource, []mcphub.Prompt) {
	ordered := make([]mcphub.BackendSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s.State == mcphub.StateHealthy && s.Capabilities != nil {
			ordered = append(ordered, s)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].InitializedAt.Before(ordered[j].InitializedAt)
	})

	var tools []mcphub.Tool
	seenTools := make(map[string]bool)
	var resources []mcphub.Resource
	seenResources := make(map[string]bool)
	var prompts []mcphub.Prompt
	seenPrompts := make(map[string]bool)

	for _, snap := range ordered {
		for _, t := range snap.Capabilities.Tools {
			if table.ToolOwner[t.Name] != snap.Name || seenTools[t.Name] {
				continue
			}
			seenTools[t.Name] = true
			tools = append(tools, t)
		}
		for _, r := range snap.Capabilities.Resources {
			if table.ResourceOwner[r.URI] != snap.Name || seenResources[r.URI] {
				continue
			}
			seenResources[r.URI] = true
			resources = append(resources, r)
		}
		for _, p := range snap.Capabilities.Prompts {
			if table.PromptOwner[p.Name] != snap.Name || seenPrompts[p.Name] {
				continue
			}
			seenPrompts[p.Name] = true
			prompts = append(prompts, p)
		}
	}

	return tools, resources, prompts
}
