// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// journal records lifecycle calls across services
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

// plainService only has a name
type plainService struct {
	name string
}

func (p *plainService) Name() string { return p.name }

// fakeService implements Initializer, Runner and Shutdowner
type fakeService struct {
	plainService
	journal *journal

	initErr     error
	runFn       func(ctx context.Context) error
	shutdownErr error
}

func (f *fakeService) Init() error {
	f.journal.add("init:" + f.name)
	return f.initErr
}

func (f *fakeService) Run(ctx context.Context) error {
	f.journal.add("run:" + f.name)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeService) Shutdown() error {
	f.journal.add("shutdown:" + f.name)
	return f.shutdownErr
}

// initOnly implements Initializer but not Shutdowner
type initOnly struct {
	plainService
	journal *journal
	initErr error
}

func (i *initOnly) Init() error {
	i.journal.add("init:" + i.name)
	return i.initErr
}

// runOnly implements Runner but not Shutdowner
type runOnly struct {
	plainService
	runFn func(ctx context.Context) error
}

func (r *runOnly) Run(ctx context.Context) error {
	return r.runFn(ctx)
}
