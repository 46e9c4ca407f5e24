package bus

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MessageTypeHeartbeat system 频道上的进程心跳
const MessageTypeHeartbeat = "heartbeat"

// HeartbeatPayload 心跳载荷
type HeartbeatPayload struct {
	ProcessID   string `json:"processId"`
	Connections int    `json:"connections"`
}

// PeerStatus 对端进程状态
type PeerStatus struct {
	ProcessID   string    `json:"processId"`
	Connections int       `json:"connections"`
	LastSeen    time.Time `json:"lastSeen"`
	Stale       bool      `json:"stale"`
}

// peerTable 由心跳维护的对端表
type peerTable struct {
	mu    sync.RWMutex
	peers map[string]*PeerStatus
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*PeerStatus)}
}

func (t *peerTable) observe(hb HeartbeatPayload, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[hb.ProcessID] = &PeerStatus{
		ProcessID:   hb.ProcessID,
		Connections: hb.Connections,
		LastSeen:    at,
	}
}

// snapshot 标记失联对端，并清理失联超过 2 倍阈值的记录
func (t *peerTable) snapshot(now time.Time, staleAfter time.Duration) []PeerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PeerStatus, 0, len(t.peers))
	for id, p := range t.peers {
		age := now.Sub(p.LastSeen)
		if age > 2*staleAfter {
			delete(t.peers, id)
			continue
		}
		cp := *p
		cp.Stale = age > staleAfter
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessID < out[j].ProcessID })
	return out
}

func (b *Bus) staleAfter() time.Duration {
	return time.Duration(b.cfg.PeerStaleIntervals) * b.cfg.HeartbeatInterval
}

// Peers 对端进程状态
func (b *Bus) Peers() []PeerStatus {
	return b.peers.snapshot(b.clock.Now(), b.staleAfter())
}

// ClusterConnections 估算集群连接数：本进程加上未失联对端最近一次上报的值
func (b *Bus) ClusterConnections() int {
	total := b.localConnections()
	for _, p := range b.Peers() {
		if !p.Stale {
			total += p.Connections
		}
	}
	return total
}

func (b *Bus) localConnections() int {
	if b.counter == nil {
		return 0
	}
	return b.counter()
}

// heartbeatLoop 周期性广播本进程心跳
func (b *Bus) heartbeatLoop(ctx context.Context) {
	ticker := b.clock.Ticker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	b.sendHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendHeartbeat(ctx)
		}
	}
}

func (b *Bus) sendHeartbeat(ctx context.Context) {
	msg, err := NewMessage(MessageTypeHeartbeat, HeartbeatPayload{
		ProcessID:   b.processID,
		Connections: b.localConnections(),
	})
	if err != nil {
		return
	}
	msg.WithTTL(3 * b.cfg.HeartbeatInterval).WithPriority(PriorityLow)
	if err := b.Publish(ctx, ChannelSystem, msg); err != nil {
		b.logger.Debug("heartbeat not sent", "error", err)
	}
}

// observeHeartbeat 在接收路径上更新对端表
func (b *Bus) observeHeartbeat(msg *Message) {
	var hb HeartbeatPayload
	if err := msg.Decode(&hb); err != nil || hb.ProcessID == "" {
		b.logger.Debug("invalid heartbeat", "origin", msg.OriginProcessID, "error", err)
		return
	}
	b.peers.observe(hb, b.clock.Now())
}
