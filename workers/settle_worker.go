// workers/settle_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/devvspaces/zk-chess-clash/services"
)

// StartSettlementSweeper runs a periodic job that tries to complete every
// matched game. Safe to run alongside user-triggered completions: the
// engine's conditional writes and settling gate make a duplicate attempt a
// no-op rejection, never a second payout.
func StartSettlementSweeper(ctx context.Context, svc *services.EscrowService, interval time.Duration) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("[SWEEPER] failed to create scheduler: %v", err)
		return
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			sweepOnce(ctx, svc)
		}),
	)
	if err != nil {
		log.Printf("[SWEEPER] failed to schedule job: %v", err)
		return
	}

	sched.Start()
	log.Printf("[SWEEPER] settlement sweeper running (every %s)", interval)

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.Printf("[SWEEPER] shutdown error: %v", err)
		}
	}()
}

func sweepOnce(ctx context.Context, svc *services.EscrowService) {
	games, err := svc.ListMatchedGames(ctx)
	if err != nil {
		log.Printf("[SWEEPER] failed to list matched games: %v", err)
		return
	}

	for _, g := range games {
		_, receipts, err := svc.CompleteGame(ctx, g.ID)
		if err != nil {
			switch services.KindOf(err) {
			case services.KindMatchNotConcluded:
				// Still being played, come back next sweep.
			case services.KindConcurrentModification, services.KindAlreadyCompleted:
				// Someone else is settling or already settled it.
			default:
				log.Printf("[SWEEPER] game %s: %v", g.ID, err)
			}
			continue
		}
		log.Printf("[SWEEPER] auto-settled game %s with %d payout(s)", g.ID, len(receipts))
	}
}
