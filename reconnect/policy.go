// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package reconnect

import (
	"math/rand"
	"sync"
	"time"
)

// Policy decides how long to wait before a reconnection attempt.
// Attempts are counted from zero and reset once a connection succeeds.
type Policy interface {
	Delay(attempt int) time.Duration
}

// PolicyFunc is an adapter to allow the use of ordinary functions as policies.
type PolicyFunc func(attempt int) time.Duration

// Delay calls f(attempt).
func (f PolicyFunc) Delay(attempt int) time.Duration {
	return f(attempt)
}

// FixedDelay waits the same amount of time before every attempt.
func FixedDelay(d time.Duration) Policy {
	return PolicyFunc(func(int) time.Duration {
		return d
	})
}

// RandomIncreasingDelay waits a random base delay between 5 and 15 seconds
// before the first seven attempts.
// The 8th to 13th attempts wait six times the base delay and later attempts
// wait thirty times the base delay.
//
// The base delay is picked once so that clients that lost their connection at
// the same time spread out their attempts.
func RandomIncreasingDelay(src rand.Source) Policy {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	var (
		once sync.Once
		base time.Duration
	)
	return PolicyFunc(func(attempt int) time.Duration {
		once.Do(func() {
			base = time.Duration(5+rand.New(src).Intn(11)) * time.Second
		})
		// attempt counts from zero.
		switch n := attempt + 1; {
		case n > 13:
			return base * 30
		case n > 7:
			return base * 6
		}
		return base
	})
}
