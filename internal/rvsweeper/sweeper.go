// Package rvsweeper periodically removes expired listings from a store.
package rvsweeper

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metalab/rendezvous/internal/rvmetrics"
)

const DefaultInterval = 5 * time.Second

// SweepableStore is the part of a listing store a Sweeper needs.
type SweepableStore interface {
	SweepExpired() int
}

type Sweeper struct {
	interval time.Duration
	logger   *logrus.Logger
	name     string
	started  atomic.Bool
	store    SweepableStore
}

func NewSweeper(logger *logrus.Logger, store SweepableStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Sweeper{
		interval: interval,
		logger:   logger,
		name:     reflect.TypeOf(Sweeper{}).Name(),
		store:    store,
	}
}

// Run sweeps once right away, then again every interval until the context is
// cancelled. A sweep that's missed or finds nothing is simply picked up by the
// next one.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		panic("Sweeper already started -- should only be run once")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_ = s.sweep()

		select {
		case <-ctx.Done():
			s.logger.Infof(s.name + ": Received shutdown signal")
			return

		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep() int {
	numSwept := s.store.SweepExpired()
	rvmetrics.ListingsRemoved.WithLabelValues(rvmetrics.ReasonExpired).Add(float64(numSwept))

	if numSwept > 0 {
		s.logger.WithFields(logrus.Fields{
			"num_swept": numSwept,
		}).Infof(s.name+": Swept %d expired listing(s)", numSwept)
	}

	return numSwept
}
