// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package preferences provides the key-value store holding user settings
// such as the inbox sort order and the lock screen material.
package preferences

import (
	"context"
	"strconv"
	"sync"
)

// Keys used by the room list sort order.
const (
	KeySortByUnread           = "SORT_BY_UNREAD"
	KeyPinFavourites          = "PIN_FAVORITES"
	KeyBuryLowPriority        = "BURY_LOW_PRIORITY"
	KeyClientSideUnreadCounts = "CLIENT_GENERATED_UNREAD_COUNTS"
	KeySortWithSilentUnread   = "SORT_WITH_SILENT_UNREAD"
)

// Value is the current value of a key. Present is false if the key is
// not set.
type Value struct {
	Value   string
	Present bool
}

// Bool interprets the value as a boolean, falling back to def if the key
// is missing or malformed.
func (v Value) Bool(def bool) bool {
	if !v.Present {
		return def
	}
	b, err := strconv.ParseBool(v.Value)
	if err != nil {
		return def
	}
	return b
}

// Store is a narrow key-value preferences store.
type Store interface {
	Get(ctx context.Context, key string) (Value, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Watch emits the current value of the key and then every change until
	// ctx is done, after which the channel is closed. A slow reader only
	// sees the latest value.
	Watch(ctx context.Context, key string) (<-chan Value, error)
}

// Watchers fans out value changes to the watchers of each key. Stores
// embed it and make every write through Update.
type Watchers struct {
	writeMu  sync.Mutex // orders writes with their notifications
	mu       sync.Mutex
	watchers map[string]map[chan Value]struct{}
}

// Update runs write and notifies the value it returns, unless it fails.
// Writes are serialised so that watchers observe them in the order they
// were applied.
func (w *Watchers) Update(key string, write func() (Value, error)) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	value, err := write()
	if err != nil {
		return err
	}
	w.Notify(key, value)
	return nil
}

// Add registers a watcher for the key seeded with the value returned by
// load. Loading happens under the watchers lock so that no change notified
// concurrently is lost. The watcher is removed and its channel closed when
// ctx is done.
func (w *Watchers) Add(ctx context.Context, key string, load func() (Value, error)) (<-chan Value, error) {
	w.mu.Lock()
	current, err := load()
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	ch := make(chan Value, 1)
	ch <- current
	if w.watchers == nil {
		w.watchers = make(map[string]map[chan Value]struct{})
	}
	if w.watchers[key] == nil {
		w.watchers[key] = make(map[chan Value]struct{})
	}
	w.watchers[key][ch] = struct{}{}
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.watchers[key], ch)
		if len(w.watchers[key]) == 0 {
			delete(w.watchers, key)
		}
		close(ch)
	}()
	return ch, nil
}

// Notify delivers the new value of the key to its watchers.
func (w *Watchers) Notify(key string, value Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.watchers[key] {
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}

// InMemoryStore is a Store that keeps preferences in memory.
type InMemoryStore struct {
	Watchers
	mu     sync.RWMutex
	values map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string]string)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return Value{Value: v, Present: ok}, nil
}

func (s *InMemoryStore) Set(_ context.Context, key, value string) error {
	return s.Update(key, func() (Value, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.values[key] = value
		return Value{Value: value, Present: true}, nil
	})
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	return s.Update(key, func() (Value, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.values, key)
		return Value{}, nil
	})
}

func (s *InMemoryStore) Watch(ctx context.Context, key string) (<-chan Value, error) {
	return s.Add(ctx, key, func() (Value, error) {
		return s.Get(ctx, key)
	})
}
