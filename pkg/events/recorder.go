// Package events wraps client-go's EventRecorder with reason/object
// deduplication, so a flapping reconcile loop or a replay step retried
// several times in a row doesn't spam the same object's event feed.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
)

// Event is a single Kubernetes event to publish. DedupeValues, when set,
// identifies the occurrence for dedupe purposes (e.g. the object's name and
// the outcome being reported); repeated Publish calls with the same Reason
// and DedupeValues within DedupeTimeout only emit once.
type Event struct {
	InvolvedObject runtime.Object
	Type           string
	Reason         string
	Message        string
	DedupeValues   []string
	DedupeTimeout  time.Duration
}

func (e Event) dedupeKey() string {
	return fmt.Sprintf("%s-%s", strings.ToLower(e.Reason), strings.Join(e.DedupeValues, "-"))
}

// Recorder publishes Kubernetes events with dedupe applied.
type Recorder interface {
	Publish(...Event)
}

type recorder struct {
	rec   record.EventRecorder
	cache *cache.Cache
}

const defaultDedupeTimeout = 2 * time.Minute

// NewRecorder wraps rec with event deduplication. rec may be nil, in which
// case Publish is a no-op — this lets callers (and tests) construct a
// Reconciler/Driver without wiring a real event sink.
func NewRecorder(rec record.EventRecorder) Recorder {
	return &recorder{rec: rec, cache: cache.New(defaultDedupeTimeout, 10*time.Second)}
}

// Publish records every event in evts, applying dedupe per-event.
func (r *recorder) Publish(evts ...Event) {
	for _, evt := range evts {
		r.publishEvent(evt)
	}
}

func (r *recorder) publishEvent(evt Event) {
	if r.rec == nil {
		return
	}

	timeout := defaultDedupeTimeout
	if evt.DedupeTimeout != 0 {
		timeout = evt.DedupeTimeout
	}

	if len(evt.DedupeValues) > 0 && !r.shouldCreateEvent(evt.dedupeKey(), timeout) {
		return
	}

	r.rec.Event(evt.InvolvedObject, evt.Type, evt.Reason, evt.Message)
}

func (r *recorder) shouldCreateEvent(key string, timeout time.Duration) bool {
	if _, exists := r.cache.Get(key); exists {
		return false
	}
	r.cache.Set(key, nil, timeout)
	return true
}
