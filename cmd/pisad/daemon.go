// Copyright 2026 The pisa-watch Authors
// This file is part of the pisa-watch library.
//
// The pisa-watch library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pisa-watch library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pisa-watch library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pisa-watch/pisa/appstore"
	"github.com/pisa-watch/pisa/blockcache"
	"github.com/pisa-watch/pisa/blockprocessor"
	"github.com/pisa-watch/pisa/ethadapter"
	"github.com/pisa-watch/pisa/pisaconfig"
	"github.com/pisa-watch/pisa/responder"
	"github.com/pisa-watch/pisa/txtracker"
	"github.com/pisa-watch/pisa/watcher"
)

// daemon bundles every wired component of a running watchtower process,
// grounded on SubBridge's component-bag shape (node/sc/subbridge.go):
// one struct holding every long-lived piece, started in dependency
// order, stopped in reverse.
type daemon struct {
	client    *ethclient.Client
	cache     *blockcache.BlockCache
	processor *blockprocessor.BlockProcessor
	store     *appstore.Store
	tracker   *txtracker.TransactionTracker
	responder *responder.MultiResponder
	reorg     *responder.ReorgWatcher
	watcher   *watcher.Watcher
}

func newDaemon(cfg pisaconfig.Config) (*daemon, error) {
	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("pisad: dial %s: %w", cfg.RPCEndpoint, err)
	}

	cache := blockcache.New(cfg.BlockCacheDepth)
	source := ethadapter.NewBlockSource(client)
	processor := blockprocessor.New(cache, source)

	store := appstore.New()

	signer, err := ethadapter.NewKeySigner(client, cfg.SigningKeyPath)
	if err != nil {
		return nil, err
	}
	estimator := ethadapter.NewGasPriceEstimator(client)
	tracker := txtracker.New(cache, processor)

	mr := responder.New(signer, estimator, tracker, cfg.GasLimit, cfg.ReplacementRatePct, cfg.MaxQueueDepth)
	reorg := responder.NewReorgWatcher(mr, cache)

	w, err := watcher.New(store, cache, mr, store, cfg.ConfirmationsBeforeResponse, cfg.ConfirmationsBeforeRemoval)
	if err != nil {
		return nil, fmt.Errorf("pisad: construct watcher: %w", err)
	}

	return &daemon{
		client:    client,
		cache:     cache,
		processor: processor,
		store:     store,
		tracker:   tracker,
		responder: mr,
		reorg:     reorg,
		watcher:   w,
	}, nil
}

// run drives the daemon until ctx is cancelled: one goroutine following
// the chain's new heads into the BlockProcessor, one draining the
// processor's NewHeadEvent feed to the Watcher and ReorgWatcher, and the
// TransactionTracker's own scan loop.
func (d *daemon) run(ctx context.Context) error {
	headCh := make(chan blockprocessor.NewHeadEvent, 16)
	sub := d.processor.SubscribeNewHead(headCh)
	defer sub.Unsubscribe()

	go d.tracker.Run()
	defer d.tracker.Stop()

	go d.dispatchHeads(headCh)

	return d.followChain(ctx)
}

// dispatchHeads hands every NewHeadEvent the BlockProcessor emits to the
// Watcher and ReorgWatcher, logging rather than aborting on either
// component's error, the same "one event, many independent reactors,
// none can block the others" discipline MainChainEventHandler's
// dispatch loop follows.
func (d *daemon) dispatchHeads(ch <-chan blockprocessor.NewHeadEvent) {
	for ev := range ch {
		if err := d.watcher.HandleNewHead(ev.Prev, ev.New); err != nil {
			logger.Error("watcher: handle new head failed", "err", err)
		}
		if err := d.reorg.HandleNewHead(ev.Prev, ev.New); err != nil {
			logger.Error("reorg watcher: handle new head failed", "err", err)
		}
	}
}

// followChain subscribes to the node's new-head feed and feeds every
// arriving header into the BlockProcessor.
func (d *daemon) followChain(ctx context.Context) error {
	headers := make(chan *types.Header, 16)
	sub, err := d.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("pisad: subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("pisad: new-head subscription error: %w", err)
		case header := <-headers:
			if err := d.processor.ProcessHead(ctx, header.Hash()); err != nil {
				logger.Error("process new head failed", "err", err, "number", header.Number.Uint64())
			}
		}
	}
}

func runDaemon(cfg pisaconfig.Config) error {
	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	return d.run(context.Background())
}
