package p2p

import (
	"time"
)

const (
	BanThreshold      = 100
	ThrottleThreshold = 50
	ThrottleDelay     = 500 * time.Millisecond

	// banDecay is how long one point of misbehaviour takes to expire.
	banDecay = time.Minute
)

// Offence classifies peer misbehaviour. Its penalty is what it adds to the
// peer's ban score.
type Offence uint8

const (
	OffenceNone Offence = iota
	OffenceMalformed
	OffenceTruncated
	OffenceBadRequest
	OffenceInvalidBlock
)

func (o Offence) Penalty() int {
	switch o {
	case OffenceMalformed:
		return 10
	case OffenceTruncated:
		return 20
	case OffenceBadRequest:
		return 2
	case OffenceInvalidBlock:
		return BanThreshold
	default:
		return 0
	}
}

func (o Offence) String() string {
	switch o {
	case OffenceNone:
		return "none"
	case OffenceMalformed:
		return "malformed"
	case OffenceTruncated:
		return "truncated"
	case OffenceBadRequest:
		return "bad-request"
	case OffenceInvalidBlock:
		return "invalid-block"
	default:
		return "unknown"
	}
}

// banScore is a peer's decaying misbehaviour total. The zero value is
// ready to use; the owner serializes access.
type banScore struct {
	points int
	since  time.Time
}

// at returns the score as of now, after decay.
func (b *banScore) at(now time.Time) int {
	switch {
	case b.since.IsZero() || now.Before(b.since):
		b.since = now
	default:
		if expired := int(now.Sub(b.since) / banDecay); expired > 0 {
			b.points = max(b.points-expired, 0)
			b.since = b.since.Add(time.Duration(expired) * banDecay)
		}
	}
	return b.points
}

func (b *banScore) add(now time.Time, o Offence) int {
	b.points = b.at(now) + o.Penalty()
	return b.points
}
