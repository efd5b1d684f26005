package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RateWindowCounter is the number of requests an identity made against an
// endpoint within one fixed window.
type RateWindowCounter struct {
	Identity    string    `json:"identity"`
	Endpoint    string    `json:"endpoint"`
	WindowStart time.Time `json:"window_start"`
	Count       int64     `json:"count"`
}

// CounterKey identifies a single live counter.
type CounterKey struct {
	Identity    string
	Endpoint    string
	WindowStart time.Time
}

// CounterKeyPrefix is shared by every counter key so housekeeping can scan them.
const CounterKeyPrefix = "ratelimit:"

// String renders the key as stored, with the window start in unix milliseconds.
func (k CounterKey) String() string {
	return fmt.Sprintf("%s%s:%s:%d", CounterKeyPrefix, k.Identity, k.Endpoint, k.WindowStart.UnixMilli())
}

// ParseCounterWindowStart extracts the window start from a stored counter key.
// Identities may themselves contain colons (IPv6), so only the final segment is read.
func ParseCounterWindowStart(key string) (time.Time, bool) {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 || !strings.HasPrefix(key, CounterKeyPrefix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
