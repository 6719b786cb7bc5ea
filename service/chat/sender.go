package chat

// Sender implements Deliverer over per-client send queues. Group
// delivery walks the snapshot inline so two sends on the same channel
// reach each subscriber's queue in persistence order; global
// broadcasts go through the fan-out pool.
type Sender struct {
	reg *Registry
	fan *Fanout
}

func NewSender(reg *Registry, fan *Fanout) *Sender {
	return &Sender{reg: reg, fan: fan}
}

func (s *Sender) DeliverToConn(c *Client, payload []byte) {
	if c == nil || len(payload) == 0 {
		return
	}
	c.push(payload)
}

// DeliverToGroup is best-effort per connection: a full queue means that
// connection misses the frame, it never blocks or fails the rest of
// the group.
func (s *Sender) DeliverToGroup(conns []*Client, payload []byte) {
	if len(payload) == 0 {
		return
	}
	for _, c := range conns {
		c.push(payload)
	}
}

func (s *Sender) BroadcastAll(payload []byte) {
	s.fan.Broadcast(s.reg.ListAll(), payload)
}
