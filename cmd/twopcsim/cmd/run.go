package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/oasisprotocol/twopc/internal/logging"
	"github.com/oasisprotocol/twopc/pkg/twopc"
	"github.com/oasisprotocol/twopc/pkg/twopccodec"
	"github.com/oasisprotocol/twopc/pkg/twopcmetrics"
	badgerstore "github.com/oasisprotocol/twopc/pkg/twopcstore/badger"
	memtransport "github.com/oasisprotocol/twopc/pkg/twopctransport/memory"
)

var logger = logging.GetLogger("twopcsim")

var (
	flagCoordinator     string
	flagParticipants    []string
	flagValue           string
	flagDeny            []string
	flagDataDir         string
	flagDropProbability float64
	flagTimeout         time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single simulated 2PC epoch to completion",
	RunE:  runSimulation,
}

func init() {
	runCmd.Flags().StringVar(&flagCoordinator, "coordinator", "A", "coordinator process name")
	runCmd.Flags().StringSliceVar(&flagParticipants, "participants", []string{"B", "C"},
		"participant process names")
	runCmd.Flags().StringVar(&flagValue, "value", "deploy", "value the coordinator proposes")
	runCmd.Flags().StringSliceVar(&flagDeny, "deny", nil,
		"participant (or coordinator) names whose local vote is no")
	runCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "badger data directory (default: temp dir)")
	runCmd.Flags().Float64Var(&flagDropProbability, "drop-probability", 0,
		"probability a single send is dropped and redelivered later")
	runCmd.Flags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "give up after this long")
}

// votingPolicy is the user-supplied local vote: "yes unless named in
// --deny". This is deliberately the one piece spec.md assigns squarely
// to the embedder and keeps out of the core's scope.
func votingPolicy(deny map[string]bool) func(process, value string) bool {
	return func(process, value string) bool {
		return !deny[process]
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	dataDir := flagDataDir
	if dataDir == "" {
		var err error
		dataDir, err = os.MkdirTemp("", "twopcsim")
		if err != nil {
			return fmt.Errorf("twopcsim: create data dir: %w", err)
		}
		logger.Info("using temporary data directory", "dir", dataDir)
	}

	store, err := badgerstore.New[string, twopc.WallClock](dataDir)
	if err != nil {
		return fmt.Errorf("twopcsim: open store: %w", err)
	}
	defer store.Cleanup()

	twopcmetrics.Register()

	transport := memtransport.NewTransport[string](memtransport.Options{
		DropProbability: flagDropProbability,
	})

	deny := map[string]bool{}
	for _, p := range flagDeny {
		deny[p] = true
	}
	vote := votingPolicy(deny)

	engine := twopc.NewEngine[string, string, twopc.WallClock](twopc.SystemTimeSource{})

	all := append([]string{flagCoordinator}, flagParticipants...)
	done := make(chan string, len(all))
	var wg sync.WaitGroup

	processes := make(map[string]*simProcess, len(all))
	for _, name := range all {
		ctx, err := initialContext(flagCoordinator, name, flagParticipants)
		if err != nil {
			return fmt.Errorf("twopcsim: build initial context for %s: %w", name, err)
		}
		if err := store.Put(ctx); err != nil {
			return fmt.Errorf("twopcsim: seed context for %s: %w", name, err)
		}

		p := &simProcess{
			name:      name,
			value:     flagValue,
			engine:    engine,
			store:     store,
			transport: transport,
			alarm:     memtransport.NewAlarmClock(twopc.SystemTimeSource{}),
			inbox:     transport.Register(name),
			vote:      vote,
			done:      done,
			start:     make(chan twopc.Context[string, twopc.WallClock], 1),
		}
		processes[name] = p

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.run(ctx)
		}()
	}

	// Kick off the epoch: the coordinator needs a Start event. This is
	// routed through the coordinator's own simProcess rather than applied
	// inline, so its goroutine is the only one ever touching its Context.
	coordCtx, err := store.Get(flagCoordinator, flagCoordinator)
	if err != nil {
		return fmt.Errorf("twopcsim: read seeded coordinator context: %w", err)
	}
	processes[flagCoordinator].start <- coordCtx

	deadline := time.After(flagTimeout)
	finished := 0
	for finished < len(all) {
		select {
		case name := <-done:
			logger.Info("process reached a decision", "process", name)
			finished++
		case <-deadline:
			return fmt.Errorf("twopcsim: timed out after %s waiting for decision", flagTimeout)
		}
	}

	for _, name := range all {
		transport.Unregister(name)
	}
	wg.Wait()

	return nil
}

func initialContext(coordinator, thisProcess string, participants []string) (twopc.Context[string, twopc.WallClock], error) {
	b := twopc.NewContextBuilder[string, twopc.WallClock]().
		WithCoordinator(coordinator).
		WithEpoch(0).
		WithThisProcess(thisProcess)

	if thisProcess == coordinator {
		roster := make([]twopc.Participant[string], len(participants))
		for i, p := range participants {
			roster[i] = twopc.NewParticipant(p)
		}
		b.WithParticipants(roster).WithState(twopc.StateWaitingForStart{})
	} else {
		peers := make([]string, 0, len(participants))
		for _, p := range participants {
			if p != thisProcess {
				peers = append(peers, p)
			}
		}
		b.WithParticipantProcesses(peers).WithState(twopc.StateWaitingForVoteRequest{})
	}

	return b.Build()
}

// simProcess runs one simulated process's event loop: pull from its
// inbox, its alarm, or a one-shot Start kickoff, call Engine.Event
// exactly once per iteration, and apply the returned actions in the
// order the engine returned them (an Update is persisted before any
// action that follows it runs) — never concurrently with itself, since
// everything funnels through this
// one goroutine's select loop.
type simProcess struct {
	name      string
	value     string
	engine    *twopc.Engine[string, string, twopc.WallClock]
	store     *badgerstore.Store[string, twopc.WallClock]
	transport *memtransport.Transport[string]
	alarm     *memtransport.AlarmClock
	inbox     <-chan memtransport.Envelope[string]
	vote      func(process, value string) bool
	done      chan<- string
	start     chan twopc.Context[string, twopc.WallClock]
}

func (p *simProcess) run(ctx twopc.Context[string, twopc.WallClock]) {
	decided := false

	for {
		select {
		case seed := <-p.start:
			ctx = p.apply(twopc.EventStart[string]{Value: p.value}, seed)
		case env, ok := <-p.inbox:
			if !ok {
				return
			}
			msg, err := roundTripMessage(env.Message)
			if err != nil {
				logger.Error("failed to round-trip inbound message", "process", p.name, "err", err)
				continue
			}
			ctx = p.apply(twopc.EventDeliver[string]{From: env.From, Message: msg}, ctx)
		case <-p.alarm.Fired():
			ctx = p.apply(twopc.EventAlarm{}, ctx)
		}

		// A coordinator's last Update after deciding already moves it on to
		// WaitingForDecisionAck, so that state marks its decision too.
		_, acking := ctx.State.(twopc.StateWaitingForDecisionAck[twopc.WallClock])
		if !decided && (isDecided(ctx) || acking) {
			decided = true
			p.done <- p.name
		}
	}
}

// roundTripMessage marshals then immediately unmarshals msg via
// pkg/twopccodec, simulating the encode/decode step a real wire
// transport would perform even though this transport moves values
// in-memory.
func roundTripMessage(msg twopc.Message) (twopc.Message, error) {
	data, err := twopccodec.MarshalMessage[string](msg)
	if err != nil {
		return nil, err
	}
	return twopccodec.UnmarshalMessage[string](data)
}

// apply runs one Engine.Event call and dispatches its actions in order:
// Update is persisted and the alarm rearmed or disarmed before any
// SendMessage or Notify that follows it, matching the crash-safety
// ordering the core guarantees. A RequestForVote notification triggers an
// immediate recursive EventVote using the local voting policy, since in
// this simulation the "embedder decides" step never actually blocks.
func (p *simProcess) apply(evt twopc.Event, ctx twopc.Context[string, twopc.WallClock]) twopc.Context[string, twopc.WallClock] {
	actions, err := p.engine.Event(evt, ctx)
	if err != nil {
		logger.Error("engine rejected event", "process", p.name, "event", fmt.Sprintf("%T", evt), "err", err)
		return ctx
	}

	next := ctx
	var requestedVoteValue *string
	for _, action := range actions {
		twopcmetrics.Observe(p.name, action)

		switch a := action.(type) {
		case twopc.ActionUpdate[string, twopc.WallClock]:
			next = a.Context
			if err := p.store.Put(next); err != nil {
				logger.Error("failed to persist context", "process", p.name, "err", err)
			}
			twopcmetrics.ObserveEpoch(p.name, next.Epoch)
			if a.Alarm != nil {
				p.alarm.Arm(*a.Alarm)
			} else {
				p.alarm.Disarm()
			}
		case twopc.ActionSendMessage[string]:
			p.transport.Send(p.name, a.To, a.Message)
		case twopc.ActionNotify:
			switch n := a.Notification.(type) {
			case twopc.NotifyParticipantRequestForVote[string]:
				v := n.Value
				requestedVoteValue = &v
			case twopc.NotifyCoordinatorRequestForVote:
				v := p.value
				requestedVoteValue = &v
			case twopc.NotifyMessageDropped:
				logger.Debug("dropped inbound message", "process", p.name, "reason", n.Reason)
			case twopc.NotifyCommit:
				logger.Info("decided commit", "process", p.name)
			case twopc.NotifyAbort:
				logger.Info("decided abort", "process", p.name)
			}
		}
	}

	if requestedVoteValue != nil {
		decision := p.vote(p.name, *requestedVoteValue)
		return p.apply(twopc.EventVote{Vote: decision}, next)
	}

	return next
}

func isDecided(ctx twopc.Context[string, twopc.WallClock]) bool {
	switch ctx.State.(type) {
	case twopc.StateCommit, twopc.StateAbort:
		return true
	default:
		return false
	}
}
