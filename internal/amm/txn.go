package amm

// txn scopes one pair operation. Beginning it records an undo of the pair
// state in the host journal; rollback reverts the journal to the point
// before it began, which also undoes token movements and logs. Only commit
// keeps the changes.
type txn struct {
	p    *Pair
	snap int
	done bool
}

func (p *Pair) begin() *txn {
	snap := p.env.Snapshot()
	saved := p.state
	p.env.Record(func() { p.state = saved })
	return &txn{p: p, snap: snap}
}

func (t *txn) commit() {
	t.done = true
}

func (t *txn) rollback() {
	if t.done {
		return
	}
	t.p.env.RevertToSnapshot(t.snap)
	t.done = true
}
