package ratelimit

import "sort"

// ConnectionStats is a read-only snapshot of one connection.
type ConnectionStats struct {
	EstablishedAt string   `json:"established_at"`
	LastActivity  string   `json:"last_activity"`
	IPAddress     string   `json:"ip_address"`
	UserID        string   `json:"user_id"`
	Subscriptions []string `json:"subscriptions"`
}

// IPStats is a read-only snapshot of one IP's footprint.
type IPStats struct {
	IPAddress          string `json:"ip_address"`
	ConnectionCount    int    `json:"connection_count"`
	TotalSubscriptions int    `json:"total_subscriptions"`
	TotalMessages      int64  `json:"total_messages"`
}

// ConnectionStats returns the snapshot for a connection, if registered.
func (l *Limiter) ConnectionStats(connectionID string) (ConnectionStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, exists := l.conns[connectionID]
	if !exists {
		return ConnectionStats{}, false
	}

	subs := make([]string, 0, len(state.subs))
	for room := range state.subs {
		subs = append(subs, room)
	}
	sort.Strings(subs)

	return ConnectionStats{
		IPAddress:     state.info.IPAddress,
		UserID:        state.info.UserID,
		EstablishedAt: state.info.EstablishedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		LastActivity:  state.info.LastActivity.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Subscriptions: subs,
	}, true
}

// IPStats returns aggregate counters for an IP. An IP with no registered
// connections reports zeros.
func (l *Limiter) IPStats(ip string) IPStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	totalSubs := 0
	for _, state := range l.conns {
		if state.info.IPAddress == ip {
			totalSubs += len(state.subs)
		}
	}

	return IPStats{
		IPAddress:          ip,
		ConnectionCount:    l.ipConns[ip],
		TotalSubscriptions: totalSubs,
		TotalMessages:      l.ipMessages[ip],
	}
}
