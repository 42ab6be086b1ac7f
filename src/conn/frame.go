package conn

import "github.com/pulsegate/socket/src/types"

// reassembler accumulates fragments of one logical message. The buffer is
// flushed exactly when a non-continuation frame arrives, so it never spans
// more than one message.
type reassembler struct {
	pending [][]byte
}

// push folds one receive result into the buffer. done reports whether a
// complete payload is available; when true, payload is the ordered
// concatenation of all fragments including the final one.
func (r *reassembler) push(payload []byte, ft types.FrameType) ([]byte, bool) {
	if ft == types.FrameContinuation {
		r.pending = append(r.pending, payload)
		return nil, false
	}
	if len(r.pending) == 0 {
		return payload, true
	}
	r.pending = append(r.pending, payload)
	size := 0
	for _, p := range r.pending {
		size += len(p)
	}
	full := make([]byte, 0, size)
	for _, p := range r.pending {
		full = append(full, p...)
	}
	r.pending = nil
	return full, true
}
