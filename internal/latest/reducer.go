package latest

import (
	"github.com/ca-srg/lastmsg/internal/types"
)

// Mode selects which end of the ordering Reduce keeps.
type Mode int

const (
	Latest Mode = iota
	Earliest
)

func (m Mode) String() string {
	if m == Earliest {
		return "earliest"
	}
	return "latest"
}

// Tracef receives diagnostic lines. A nil Tracef discards them.
type Tracef func(format string, args ...any)

func (t Tracef) printf(format string, args ...any) {
	if t != nil {
		t(format, args...)
	}
}

// Reduce folds batch into init and returns the extremal message by mode. When authorID is
// non-empty only messages by that author are considered. The running value is replaced
// only by a strictly newer (Latest) or strictly older (Earliest) message, so the first
// seen of two equal messages wins. The result is nil when nothing qualifies.
func Reduce(batch []types.Message, authorID string, mode Mode, init *types.Message, trace Tracef) *types.Message {
	best := init
	for i := range batch {
		msg := &batch[i]

		if authorID != "" && msg.AuthorID != authorID {
			trace.printf("message %s was not sent by %s, keeping best", msg.ID, authorID)
			continue
		}

		if best == nil {
			trace.printf("no %s message yet, taking %s", mode, msg.ID)
			best = msg
			continue
		}

		switch {
		case mode == Latest && msg.Newer(best):
			trace.printf("message %s is newer than %s, replacing best", msg.ID, best.ID)
			best = msg
		case mode == Earliest && msg.Older(best):
			trace.printf("message %s is older than %s, replacing best", msg.ID, best.ID)
			best = msg
		default:
			trace.printf("message %s does not beat %s, keeping best", msg.ID, best.ID)
		}
	}

	if best == nil || best == init {
		return best
	}

	// Detach from the batch's backing array.
	out := *best
	return &out
}
