// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package features maintains sliding-window state per source IP and per
// username and turns raw auth events into fixed-shape feature vectors.
package features

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/calderasec/vigil/internal/cache"
	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/models"
)

// DefaultWindow is the sliding-window span applied when the config leaves
// it unset.
const DefaultWindow = time.Hour

// defaultMaxLoginSamples caps the per-user login-hour history used for the
// login-time deviation feature.
const defaultMaxLoginSamples = 512

// DefaultLOLBins are the living-off-the-land binaries flagged when they
// appear in an event message.
var DefaultLOLBins = []string{
	"bash", "sh", "python", "perl", "ruby", "php",
	"curl", "wget", "nc", "netcat", "telnet",
	"find", "grep", "awk", "sed",
	"tar", "zip", "gzip", "dd", "cp", "mv", "chmod",
	"gcc", "make", "git", "svn",
}

// Config controls the aggregator's windowing and watchlists.
type Config struct {
	// Window is the sliding-window span; entries older than this relative
	// to the newest observed event are evicted.
	Window time.Duration

	// MaxLoginSamples bounds the stored login hours per user. Zero applies
	// the default cap.
	MaxLoginSamples int

	// LOLBins overrides the default living-off-the-land binary watchlist.
	LOLBins []string
}

type ipEntry struct {
	ts         time.Time
	username   string
	eventType  models.EventType
	authMethod string
}

type userEntry struct {
	ts        time.Time
	eventType models.EventType
}

// Aggregator accumulates per-IP and per-user event histories and computes
// feature vectors. All state transitions for one event happen under a single
// lock, so a vector always reflects the state that includes its own event and
// no concurrently extracted one interleaves.
type Aggregator struct {
	mu              sync.Mutex
	window          time.Duration
	maxLoginSamples int
	lolbins         *cache.WatchlistMatcher

	ipEvents   map[string][]ipEntry
	userEvents map[string][]userEntry

	// Persistent profile state, never window-evicted.
	userLoginHours map[string][]float64
	userKnownIPs   map[string]map[string]struct{}
	userSudoSeen   map[string]struct{}

	// newest tracks the most recent event timestamp seen and anchors
	// eviction; lastSweep throttles the full-map sweep.
	newest    time.Time
	lastSweep time.Time

	extracted uint64
	rejected  uint64
}

// NewAggregator builds an aggregator from cfg, applying defaults for any
// zero-valued fields.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxLoginSamples <= 0 {
		cfg.MaxLoginSamples = defaultMaxLoginSamples
	}
	lolbins := cfg.LOLBins
	if len(lolbins) == 0 {
		lolbins = DefaultLOLBins
	}

	return &Aggregator{
		window:          cfg.Window,
		maxLoginSamples: cfg.MaxLoginSamples,
		lolbins:         cache.NewWatchlistMatcher(lolbins),
		ipEvents:        make(map[string][]ipEntry),
		userEvents:      make(map[string][]userEntry),
		userLoginHours:  make(map[string][]float64),
		userKnownIPs:    make(map[string]map[string]struct{}),
		userSudoSeen:    make(map[string]struct{}),
	}
}

// Extract records ev into the window state and returns the feature vector
// for it. Recording and computation run under one critical section. A
// malformed event (nil, zero timestamp, or empty type) returns an error and
// leaves all state untouched.
func (a *Aggregator) Extract(ev *models.Event) (*Vector, error) {
	if err := validate(ev); err != nil {
		a.mu.Lock()
		a.rejected++
		a.mu.Unlock()
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ipKey := ev.IPKey()
	userKey := ev.UserKey()

	// Profile checks run before the event is inserted, so the first
	// sighting of an IP or sudo usage is attributed to the event that
	// introduced it.
	newIP := a.isNewIP(userKey, ipKey)
	firstSudo := ev.Type == models.EventSudoSuccess && !a.sudoSeen(userKey)

	a.record(ev, ipKey, userKey)
	a.evict(ipKey, userKey)

	v := a.compute(ev, ipKey, userKey)
	v.UserNewIPDetected = newIP
	v.UserFirstSudoUsage = firstSudo

	a.extracted++
	return v, nil
}

func validate(ev *models.Event) error {
	if ev == nil {
		return fmt.Errorf("features: nil event")
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("features: event has zero timestamp")
	}
	if ev.Type == "" {
		return fmt.Errorf("features: event has empty type")
	}
	return nil
}

func (a *Aggregator) isNewIP(userKey, ipKey string) bool {
	known, ok := a.userKnownIPs[userKey]
	if !ok {
		return true
	}
	_, seen := known[ipKey]
	return !seen
}

func (a *Aggregator) sudoSeen(userKey string) bool {
	_, ok := a.userSudoSeen[userKey]
	return ok
}

// record appends ev to both window histories and updates the persistent
// per-user profile state. Caller holds the lock.
func (a *Aggregator) record(ev *models.Event, ipKey, userKey string) {
	a.ipEvents[ipKey] = append(a.ipEvents[ipKey], ipEntry{
		ts:         ev.Timestamp,
		username:   ev.Username,
		eventType:  ev.Type,
		authMethod: ev.AuthMethod,
	})
	a.userEvents[userKey] = append(a.userEvents[userKey], userEntry{
		ts:        ev.Timestamp,
		eventType: ev.Type,
	})

	known, ok := a.userKnownIPs[userKey]
	if !ok {
		known = make(map[string]struct{})
		a.userKnownIPs[userKey] = known
	}
	known[ipKey] = struct{}{}

	if ev.Type.IsEscalation() {
		a.userSudoSeen[userKey] = struct{}{}
	}

	if ev.Type == models.EventLoginSuccess {
		hour := float64(ev.Timestamp.Hour()) + float64(ev.Timestamp.Minute())/60.0
		hours := append(a.userLoginHours[userKey], hour)
		if len(hours) > a.maxLoginSamples {
			hours = hours[len(hours)-a.maxLoginSamples:]
		}
		a.userLoginHours[userKey] = hours
	}

	if ev.Timestamp.After(a.newest) {
		a.newest = ev.Timestamp
	}
	if a.lastSweep.IsZero() {
		a.lastSweep = ev.Timestamp
	}
}

// evict prunes the two touched keys against the window anchored at the newest
// observed timestamp, and amortizes a full-map sweep every half window so
// idle keys do not accumulate. Caller holds the lock.
func (a *Aggregator) evict(ipKey, userKey string) {
	cutoff := a.newest.Add(-a.window)

	a.ipEvents[ipKey] = pruneIP(a.ipEvents[ipKey], cutoff)
	a.userEvents[userKey] = pruneUser(a.userEvents[userKey], cutoff)

	if a.newest.Sub(a.lastSweep) <= a.window/2 {
		return
	}
	a.lastSweep = a.newest

	swept := 0
	for key, entries := range a.ipEvents {
		kept := pruneIP(entries, cutoff)
		if len(kept) == 0 {
			delete(a.ipEvents, key)
			swept++
			continue
		}
		a.ipEvents[key] = kept
	}
	for key, entries := range a.userEvents {
		kept := pruneUser(entries, cutoff)
		if len(kept) == 0 {
			delete(a.userEvents, key)
			swept++
			continue
		}
		a.userEvents[key] = kept
	}
	if swept > 0 {
		logging.Debug().
			Int("keys_removed", swept).
			Time("cutoff", cutoff).
			Msg("Swept idle window keys")
	}
}

func pruneIP(entries []ipEntry, cutoff time.Time) []ipEntry {
	idx := 0
	for idx < len(entries) && !entries[idx].ts.After(cutoff) {
		idx++
	}
	if idx == 0 {
		return entries
	}
	return append(entries[:0:0], entries[idx:]...)
}

func pruneUser(entries []userEntry, cutoff time.Time) []userEntry {
	idx := 0
	for idx < len(entries) && !entries[idx].ts.After(cutoff) {
		idx++
	}
	if idx == 0 {
		return entries
	}
	return append(entries[:0:0], entries[idx:]...)
}

// compute derives the vector from the window state as of ev. The window is
// anchored at the triggering event's own timestamp, so the result is
// independent of wall-clock time. Caller holds the lock.
func (a *Aggregator) compute(ev *models.Event, ipKey, userKey string) *Vector {
	cutoff := ev.Timestamp.Add(-a.window)

	v := &Vector{
		EventID:   fmt.Sprintf("%s_%s_%d", ipKey, userKey, ev.Timestamp.UnixNano()),
		Timestamp: ev.Timestamp,
		SourceIP:  ipKey,
		Username:  userKey,
		EventType: ev.Type,
	}

	a.computeIPStats(v, ipKey, cutoff)
	a.computeUserStats(v, ev, userKey, cutoff)

	// Watch-list tokens can surface in any event's message, not just
	// process executions.
	v.LolbinMatches = a.lolbins.FindAll(ev.Message)
	v.SessionLolbinExecuted = len(v.LolbinMatches) > 0

	return v
}

func (a *Aggregator) computeIPStats(v *Vector, ipKey string, cutoff time.Time) {
	var inWindow []ipEntry
	for _, e := range a.ipEvents[ipKey] {
		if e.ts.After(cutoff) {
			inWindow = append(inWindow, e)
		}
	}
	if len(inWindow) == 0 {
		return
	}

	failed := 0
	users := make(map[string]struct{})
	methods := make(map[string]struct{})
	times := make([]time.Time, 0, len(inWindow))
	for _, e := range inWindow {
		if e.eventType.IsFailedLogin() {
			failed++
		}
		if e.username != "" {
			users[e.username] = struct{}{}
		}
		methods[e.authMethod] = struct{}{}
		times = append(times, e.ts)
	}

	v.IPFailedLogins = failed
	v.IPUniqueUsersAttempted = len(users)
	v.IPFailedToSuccessRatio = float64(failed) / float64(len(inWindow))
	v.IPAuthMethodVariance = float64(len(methods)) / float64(len(inWindow))

	if len(times) >= 2 {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		var total float64
		for i := 1; i < len(times); i++ {
			total += times[i].Sub(times[i-1]).Seconds()
		}
		v.IPAvgInterAttemptSeconds = total / float64(len(times)-1)
	}
}

func (a *Aggregator) computeUserStats(v *Vector, ev *models.Event, userKey string, cutoff time.Time) {
	var inWindow []userEntry
	for _, e := range a.userEvents[userKey] {
		if e.ts.After(cutoff) {
			inWindow = append(inWindow, e)
		}
	}

	failedSudo := 0
	for _, e := range inWindow {
		if e.eventType == models.EventSudoFailure {
			failedSudo++
		}
	}
	v.UserFailedSudoAttempts = failedSudo

	v.UserLoginTimeStdDev = sampleStdDev(a.userLoginHours[userKey])

	if ev.Type == models.EventSudoSuccess {
		var lastLogin time.Time
		for _, e := range inWindow {
			if e.eventType == models.EventLoginSuccess && e.ts.After(lastLogin) && !e.ts.After(ev.Timestamp) {
				lastLogin = e.ts
			}
		}
		if !lastLogin.IsZero() {
			v.SessionLoginToPrivescSeconds = ev.Timestamp.Sub(lastLogin).Seconds()
		}
	}
}

// sampleStdDev returns the Bessel-corrected standard deviation, or 0 when
// fewer than two samples exist.
func sampleStdDev(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(n)
	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}

// Stats reports aggregate counters and tracked key counts for the stats API.
type Stats struct {
	TrackedIPs      int    `json:"tracked_ips"`
	TrackedUsers    int    `json:"tracked_users"`
	ProfiledUsers   int    `json:"profiled_users"`
	EventsExtracted uint64 `json:"events_extracted"`
	EventsRejected  uint64 `json:"events_rejected"`
	WindowSeconds   int    `json:"window_seconds"`
}

// Stats returns a point-in-time snapshot of aggregator counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		TrackedIPs:      len(a.ipEvents),
		TrackedUsers:    len(a.userEvents),
		ProfiledUsers:   len(a.userKnownIPs),
		EventsExtracted: a.extracted,
		EventsRejected:  a.rejected,
		WindowSeconds:   int(a.window / time.Second),
	}
}
