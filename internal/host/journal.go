package host

// journal is an ordered list of undo operations. Reverting to a snapshot
// replays the undo operations recorded after it, newest first.
type journal struct {
	ops []func()
}

func (j *journal) record(undo func()) {
	j.ops = append(j.ops, undo)
}

// opIndex returns the number of recorded operations; it doubles as a
// snapshot id.
func (j *journal) opIndex() int {
	return len(j.ops)
}

func (j *journal) revert(restorePoint int) {
	if restorePoint < 0 {
		restorePoint = 0
	}
	for i := len(j.ops) - 1; i >= restorePoint; i-- {
		j.ops[i]()
		j.ops[i] = nil
	}
	if restorePoint < len(j.ops) {
		j.ops = j.ops[:restorePoint]
	}
}

func (j *journal) reset() {
	j.ops = nil
}
