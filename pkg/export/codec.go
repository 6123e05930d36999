package export

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
	"github.com/acrlabs/simkube/pkg/store"
)

// trackedEntry and the other *Entry types below flatten the struct-keyed
// maps Store carries internally into slices of (key, value) pairs before
// encoding. This keeps the wire format an ordinary sequence of plain
// records rather than leaning on msgpack's non-string-map-key support.
type trackedEntry struct {
	GVK    gvk.GVK                   `msgpack:"gvk"`
	Config store.TrackedObjectConfig `msgpack:"config"`
}

type indexEntry struct {
	GVK    gvk.GVK    `msgpack:"gvk"`
	NsName gvk.NsName `msgpack:"nsName"`
	Hash   uint64     `msgpack:"hash"`
}

type lifecycleEntry struct {
	Owner     gvk.NsName            `msgpack:"owner"`
	Hash      uint64                `msgpack:"hash"`
	Lifecycle kube.PodLifecycleData `msgpack:"lifecycle"`
}

// wireTrace is the exact shape written to and read from MessagePack.
type wireTrace struct {
	Config        []trackedEntry   `msgpack:"config"`
	Events        []store.TraceEvent `msgpack:"events"`
	Index         []indexEntry     `msgpack:"index"`
	PodLifecycles []lifecycleEntry `msgpack:"podLifecycles"`
}

func flattenConfig(cfg store.TracerConfig) []trackedEntry {
	out := make([]trackedEntry, 0, len(cfg))
	for g, c := range cfg {
		out = append(out, trackedEntry{GVK: g, Config: c})
	}
	return out
}

func unflattenConfig(entries []trackedEntry) store.TracerConfig {
	cfg := make(store.TracerConfig, len(entries))
	for _, e := range entries {
		cfg[e.GVK] = e.Config
	}
	return cfg
}

func flattenIndex(idx map[gvk.GVK]map[gvk.NsName]uint64) []indexEntry {
	out := []indexEntry{}
	for g, byName := range idx {
		for n, h := range byName {
			out = append(out, indexEntry{GVK: g, NsName: n, Hash: h})
		}
	}
	return out
}

func unflattenIndex(entries []indexEntry) map[gvk.GVK]map[gvk.NsName]uint64 {
	out := map[gvk.GVK]map[gvk.NsName]uint64{}
	for _, e := range entries {
		byName, ok := out[e.GVK]
		if !ok {
			byName = map[gvk.NsName]uint64{}
			out[e.GVK] = byName
		}
		byName[e.NsName] = e.Hash
	}
	return out
}

func flattenLifecycles(pl map[gvk.NsName]map[uint64][]kube.PodLifecycleData) []lifecycleEntry {
	out := []lifecycleEntry{}
	for owner, byHash := range pl {
		for hash, lifecycles := range byHash {
			for _, l := range lifecycles {
				out = append(out, lifecycleEntry{Owner: owner, Hash: hash, Lifecycle: l})
			}
		}
	}
	return out
}

func unflattenLifecycles(entries []lifecycleEntry) map[gvk.NsName]map[uint64][]kube.PodLifecycleData {
	out := map[gvk.NsName]map[uint64][]kube.PodLifecycleData{}
	for _, e := range entries {
		byHash, ok := out[e.Owner]
		if !ok {
			byHash = map[uint64][]kube.PodLifecycleData{}
			out[e.Owner] = byHash
		}
		byHash[e.Hash] = append(byHash[e.Hash], e.Lifecycle)
	}
	return out
}

// Export encodes the subset of s observed in [startTs, endTs) as a
// MessagePack record, with filter applied to every recorded event. The
// result always begins with a synthetic marker at startTs and ends with
// one at endTs, even if the store recorded nothing in between.
func Export(s *store.Store, startTs, endTs int64, filter Filter) ([]byte, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	raw := s.EventsInRange(startTs, endTs)

	events := make([]store.TraceEvent, 0, len(raw)+2)
	events = append(events, store.TraceEvent{Ts: startTs})
	for _, e := range raw {
		if fe, keep := filterEvent(e, filter); keep {
			events = append(events, fe)
		}
	}
	events = append(events, store.TraceEvent{Ts: endTs})

	wire := wireTrace{
		Config:        flattenConfig(s.Config()),
		Events:        events,
		Index:         flattenIndex(s.IndexSnapshot()),
		PodLifecycles: flattenLifecycles(s.PodLifecyclesOverlapping(startTs, endTs)),
	}

	return msgpack.Marshal(&wire)
}

// Import decodes a MessagePack record produced by Export back into a
// frozen Store. If override is non-nil, its TracerConfig replaces the one
// recorded in data — used to replay a trace against a driver configured
// differently than the tracer that recorded it.
func Import(data []byte, override *store.TracerConfig) (*store.Store, error) {
	var wire wireTrace
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, err
	}

	cfg := unflattenConfig(wire.Config)
	if override != nil {
		cfg = *override
	}

	snap := store.Snapshot{
		Config:        cfg,
		Events:        wire.Events,
		Index:         unflattenIndex(wire.Index),
		PodLifecycles: unflattenLifecycles(wire.PodLifecycles),
	}
	return store.FromSnapshot(snap), nil
}
