// Package worker implements the background minting workflow for the
// keychain node and the cancellation handshake with block validation.
package worker

import (
	"sync"
	"time"

	"github.com/wotnet/keychain/foundation/keychain/state"
)

// mintingInterval represents the interval at which the node re-checks the
// pending pools for something worth sealing.
const mintingInterval = time.Minute

// =============================================================================

// Worker manages the minting workflow for the keychain.
type Worker struct {
	state         *state.State
	wg            sync.WaitGroup
	ticker        *time.Ticker
	shut          chan struct{}
	startMinting  chan bool
	cancelMinting chan chan struct{}
	evHandler     state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, evHandler state.EventHandler) {
	w := Worker{
		state:         st,
		ticker:        time.NewTicker(mintingInterval),
		shut:          make(chan struct{}),
		startMinting:  make(chan bool, 1),
		cancelMinting: make(chan chan struct{}),
		evHandler:     evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.mintingOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: signal cancel minting")
	done := w.SignalCancelMinting()
	done()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMinting starts a minting operation. If there is already a
// signal pending in the channel, just return since a minting operation
// will start.
func (w *Worker) SignalStartMinting() {
	if !w.state.IsMintingAllowed() {
		w.evHandler("worker: SignalStartMinting: minting turned off")
		return
	}

	select {
	case w.startMinting <- true:
	default:
	}
	w.evHandler("worker: SignalStartMinting: minting signaled")
}

// SignalCancelMinting signals the G executing the runMintingOperation
// function to stop immediately. That G will not complete its run until the
// returned done function is called, which gives the validator time to apply
// the competing block before a new search starts from the fresh tip.
func (w *Worker) SignalCancelMinting() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelMinting <- wait:
		w.evHandler("worker: SignalCancelMinting: MINTING: CANCEL: signaled")
	default:
		// No minting operation is in flight.
		w.evHandler("worker: SignalCancelMinting: no minting operation running")
	}

	return func() { close(wait) }
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
