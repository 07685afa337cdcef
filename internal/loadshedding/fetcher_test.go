/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loadshedding

import (
	"context"
	"fmt"
	"sync"
)

type fakeResponse struct {
	body string
	err  error
}

// fakeFetcher replays responses per URL; the last response repeats.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string][]fakeResponse),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) on(url string, responses ...fakeResponse) *fakeFetcher {
	f.responses[url] = responses
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ map[string]string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	responses, ok := f.responses[url]
	if !ok || len(responses) == 0 {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	idx := f.calls[url]
	f.calls[url]++
	if idx >= len(responses) {
		idx = len(responses) - 1
	}
	r := responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}
