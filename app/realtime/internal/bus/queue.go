package bus

// pending 待补发的消息
type pending struct {
	msg  *Message
	data []byte
}

// retryQueue 单个频道的有界补发队列，满时丢弃最旧的消息
type retryQueue struct {
	items   []*pending
	cap     int
	dropped int64
}

func newRetryQueue(capacity int) *retryQueue {
	return &retryQueue{cap: capacity}
}

// push 入队，返回是否因队满丢弃了旧消息
func (q *retryQueue) push(p *pending) bool {
	dropped := false
	if len(q.items) >= q.cap {
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, p)
	return dropped
}

func (q *retryQueue) peek() *pending {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// popIf 仅当队首仍是 p 时出队；补发期间队首可能已被挤掉
func (q *retryQueue) popIf(p *pending) bool {
	if len(q.items) == 0 || q.items[0] != p {
		return false
	}
	q.items[0] = nil
	q.items = q.items[1:]
	return true
}

func (q *retryQueue) len() int {
	return len(q.items)
}
