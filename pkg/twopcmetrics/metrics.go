// Package twopcmetrics wires pkg/twopc.Notification actions to
// prometheus counters and gauges, grounded on the teacher's
// worker/common/committee metrics idiom (package-level CounterVec/
// GaugeVec, registered once via sync.Once, labeled by the same process
// identifier the embedder already has in hand). The engine package never
// imports this one — deciding what to count about a run is an embedder
// concern.
package twopcmetrics

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oasisprotocol/twopc/pkg/twopc"
)

var (
	commitCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twopc_commit_count",
			Help: "Number of epochs decided as commit.",
		},
		[]string{"process"},
	)
	abortCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twopc_abort_count",
			Help: "Number of epochs decided as abort.",
		},
		[]string{"process"},
	)
	droppedMessageCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twopc_dropped_message_count",
			Help: "Number of inbound messages rejected by the engine (wrong sender, epoch, or state).",
		},
		[]string{"process"},
	)
	requestForVoteCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twopc_request_for_vote_count",
			Help: "Number of times the embedder was asked to supply a local vote.",
		},
		[]string{"process"},
	)
	epochNumber = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "twopc_epoch_number",
			Help: "Current epoch number as last observed in a persisted Context.",
		},
		[]string{"process"},
	)

	collectors = []prometheus.Collector{
		commitCount,
		abortCount,
		droppedMessageCount,
		requestForVoteCount,
		epochNumber,
	}

	registerOnce sync.Once
)

// Register registers every collector with the default prometheus
// registry. Safe to call more than once; only the first call takes
// effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

// Observe updates metrics for one Action emitted by Engine.Event for
// process. Call it once per action, in order, alongside whatever other
// handling the embedder does for that action.
func Observe(process string, action interface{}) {
	if a, ok := action.(twopc.ActionNotify); ok {
		observeNotification(process, a.Notification)
	}
}

func observeNotification(process string, n twopc.Notification) {
	switch n.(type) {
	case twopc.NotifyCommit:
		commitCount.WithLabelValues(process).Inc()
	case twopc.NotifyAbort:
		abortCount.WithLabelValues(process).Inc()
	case twopc.NotifyMessageDropped:
		droppedMessageCount.WithLabelValues(process).Inc()
	case twopc.NotifyCoordinatorRequestForVote:
		requestForVoteCount.WithLabelValues(process).Inc()
	default:
		// NotifyParticipantRequestForVote[V] is generic over the caller's
		// value type, so it can't appear as a case above; match it by name.
		if strings.HasPrefix(fmt.Sprintf("%T", n), "twopc.NotifyParticipantRequestForVote[") {
			requestForVoteCount.WithLabelValues(process).Inc()
		}
	}
}

// ObserveEpoch records the current epoch for process, typically called
// right after a successful Store.Put of a fresh Context.
func ObserveEpoch(process string, epoch twopc.Epoch) {
	epochNumber.WithLabelValues(process).Set(float64(epoch))
}
