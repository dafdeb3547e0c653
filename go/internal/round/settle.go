package round

import (
	"sort"

	"github.com/mcdev12/minority/go/internal/models"
)

// Settlement is the outcome of applying minority rule to one round.
// Majority is nil when no majority elimination happens.
type Settlement struct {
	Tally     models.Tally
	Majority  *models.Option
	Forfeited []string
	OutVoted  []string
	Remaining []string
}

// Eliminated returns forfeits followed by out-voted players.
func (s Settlement) Eliminated() []string {
	out := make([]string, 0, len(s.Forfeited)+len(s.OutVoted))
	out = append(out, s.Forfeited...)
	return append(out, s.OutVoted...)
}

// Settle applies the elimination policy to the survivors of a round.
//
// Survivors without an answer forfeit, always. The tally is counted only over
// survivors' stored answers. When the counts tie or either side is empty no
// one is out-voted; otherwise everyone who picked the majority option is.
func Settle(survivors []string, answers map[string]models.Option) Settlement {
	var s Settlement
	answered := make(map[string]models.Option, len(survivors))
	for _, email := range survivors {
		opt, ok := answers[email]
		if !ok {
			s.Forfeited = append(s.Forfeited, email)
			continue
		}
		answered[email] = opt
		if opt == models.OptionA {
			s.Tally.A++
		} else {
			s.Tally.B++
		}
	}

	a, b := s.Tally.A, s.Tally.B
	if a != b && a != 0 && b != 0 {
		majority := models.OptionA
		if b > a {
			majority = models.OptionB
		}
		s.Majority = &majority
	}

	for email, opt := range answered {
		if s.Majority != nil && opt == *s.Majority {
			s.OutVoted = append(s.OutVoted, email)
		} else {
			s.Remaining = append(s.Remaining, email)
		}
	}

	sort.Strings(s.Forfeited)
	sort.Strings(s.OutVoted)
	sort.Strings(s.Remaining)
	return s
}
