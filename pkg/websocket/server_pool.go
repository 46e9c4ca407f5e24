package websocket

import "sync"

// ConnectionPool 已升级连接的集合，准入时检查总连接数与单 IP 连接数
//
// 检查与登记在同一把锁内完成，并发升级不会越过上限。
type ConnectionPool struct {
	maxConns int
	maxPerIP int

	mu     sync.Mutex
	conns  map[string]*Connection
	perIP  map[string]int
	total  int64
	closed bool
}

// NewConnectionPool 上限 <= 0 表示不限制
func NewConnectionPool(maxConnections, maxConnectionsPerIP int) *ConnectionPool {
	return &ConnectionPool{
		maxConns: maxConnections,
		maxPerIP: maxConnectionsPerIP,
		conns:    make(map[string]*Connection),
		perIP:    make(map[string]int),
	}
}

// Add 登记连接，超限时返回 ErrPoolFull 或 ErrMaxConnectionsPerIP
func (p *ConnectionPool) Add(conn *Connection) error {
	ip := extractIP(conn.RemoteAddr())

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return ErrPoolClosed
	case p.maxConns > 0 && len(p.conns) >= p.maxConns:
		return ErrPoolFull
	case p.maxPerIP > 0 && p.perIP[ip] >= p.maxPerIP:
		return ErrMaxConnectionsPerIP
	}

	p.conns[conn.ID()] = conn
	p.perIP[ip]++
	p.total++
	return nil
}

// Remove 注销并关闭连接，重复调用无副作用
func (p *ConnectionPool) Remove(connID string) {
	p.mu.Lock()
	conn, ok := p.conns[connID]
	if ok {
		delete(p.conns, connID)
		ip := extractIP(conn.RemoteAddr())
		if p.perIP[ip]--; p.perIP[ip] <= 0 {
			delete(p.perIP, ip)
		}
	}
	p.mu.Unlock()

	if ok {
		conn.Close()
	}
}

func (p *ConnectionPool) Get(connID string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[connID]
	return conn, ok
}

func (p *ConnectionPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// IsFull 升级前的快速检查，最终以 Add 为准
func (p *ConnectionPool) IsFull() bool {
	if p.maxConns <= 0 {
		return false
	}
	return p.Count() >= p.maxConns
}

// IsIPLimitReached 升级前的快速检查，最终以 Add 为准
func (p *ConnectionPool) IsIPLimitReached(ip string) bool {
	if p.maxPerIP <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perIP[ip] >= p.maxPerIP
}

func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	perIP := make(map[string]int, len(p.perIP))
	for ip, n := range p.perIP {
		perIP[ip] = n
	}
	return Stats{
		TotalConnections:  p.total,
		ActiveConnections: int64(len(p.conns)),
		ConnectionsPerIP:  perIP,
	}
}

// Close 拒绝后续登记并关闭全部连接
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Connection)
	p.perIP = make(map[string]int)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}
