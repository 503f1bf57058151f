package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wotnet/keychain/foundation/keychain/state"
)

// mintingOperations handles the sealing of new blocks.
func (w *Worker) mintingOperations() {
	w.evHandler("worker: mintingOperations: G started")
	defer w.evHandler("worker: mintingOperations: G completed")

	for {
		select {
		case <-w.startMinting:
			if !w.isShutdown() {
				w.runMintingOperation()
			}
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.SignalStartMinting()
			}
		case <-w.shut:
			w.evHandler("worker: mintingOperations: received shut signal")
			return
		}
	}
}

// runMintingOperation takes the pending joins, key updates and required
// kicks and writes a new sealed block to the chain.
func (w *Worker) runMintingOperation() {
	w.evHandler("worker: runMintingOperation: MINTING: started")
	defer w.evHandler("worker: runMintingOperation: MINTING: completed")

	if !w.state.IsMintingAllowed() {
		w.evHandler("worker: runMintingOperation: MINTING: turned off")
		return
	}

	// If minting is signalled to be cancelled by the block validation path,
	// this G can't terminate until it is told it can.
	var wait chan struct{}
	defer func() {
		if wait != nil {
			w.evHandler("worker: runMintingOperation: MINTING: termination signal: waiting")
			<-wait
			w.evHandler("worker: runMintingOperation: MINTING: termination signal: received")
		}
	}()

	// Create a context so minting can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the minting operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case wait = <-w.cancelMinting:
			w.evHandler("worker: runMintingOperation: MINTING: CANCEL: requested")
		case <-ctx.Done():
		}
	}()

	// This G is performing the minting.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		t := time.Now()
		block, err := w.state.MintNextBlock(ctx)
		duration := time.Since(t)

		w.evHandler("worker: runMintingOperation: MINTING: minting duration[%v]", duration)

		if err != nil {
			switch {
			case errors.Is(err, state.ErrNoChanges):
				w.evHandler("worker: runMintingOperation: MINTING: no changes to mint")
			case errors.Is(err, state.ErrPowCancelled), ctx.Err() != nil:
				w.evHandler("worker: runMintingOperation: MINTING: CANCEL: complete")
			default:
				w.evHandler("worker: runMintingOperation: MINTING: ERROR: %s", err)
			}
			return
		}

		// The block is sealed and applied locally. Propose it to the
		// network; losing the race on some peer is that peer's concern.
		if err := w.state.NetSendBlockToPeers(block); err != nil {
			w.evHandler("worker: runMintingOperation: MINTING: proposeBlockToPeers: WARNING %s", err)
		}
	}()

	// Wait for both G's to terminate.
	wg.Wait()
}
