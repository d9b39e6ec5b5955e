package validation

import (
	"fmt"
	"time"

	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/config"
)

type usageKey struct {
	cpt string
	day time.Time
}

// usage accumulates units and visit days across existing claims and the
// lines of the claim under validation, in line order.
type usage struct {
	billed map[usageKey]struct{}
	units  map[usageKey]int
	visits map[int]map[time.Time]struct{}
}

func newUsage(existing []Fingerprint) *usage {
	u := &usage{
		billed: make(map[usageKey]struct{}, len(existing)),
		units:  make(map[usageKey]int, len(existing)),
		visits: map[int]map[time.Time]struct{}{},
	}
	for _, fp := range existing {
		key := usageKey{cpt: fp.CPT, day: day(fp.ServiceDate)}
		u.billed[key] = struct{}{}
		u.units[key] += fp.Units
		u.addVisit(key.day)
	}
	return u
}

func (u *usage) duplicate(line domain.ServiceLine) bool {
	_, ok := u.billed[usageKey{cpt: codetable.NormalizeCPT(line.CPT), day: day(line.ServiceDate)}]
	return ok
}

func (u *usage) addVisit(d time.Time) int {
	year := d.Year()
	days, ok := u.visits[year]
	if !ok {
		days = map[time.Time]struct{}{}
		u.visits[year] = days
	}
	days[d] = struct{}{}
	return len(days)
}

func (u *usage) frequency(c *collector, n int, line domain.ServiceLine, rule config.PayerRule) {
	key := usageKey{cpt: codetable.NormalizeCPT(line.CPT), day: day(line.ServiceDate)}
	if line.Units > 0 {
		u.units[key] += line.Units
	}

	if limit, ok := rule.MaxUnitsPerDay[key.cpt]; ok && limit > 0 && u.units[key] > limit {
		c.add(domain.KindFrequencyExceeded, "service_lines.units", n, fmt.Sprint(u.units[key]),
			fmt.Sprintf("%s allows %d unit(s) per day, %d billed", key.cpt, limit, u.units[key]))
	}

	visits := u.addVisit(key.day)
	if rule.MaxVisitsPerYear > 0 && visits > rule.MaxVisitsPerYear {
		c.add(domain.KindFrequencyExceeded, "service_lines.service_date", n, key.day.Format("2006-01-02"),
			fmt.Sprintf("payer allows %d visits per year, %d billed in %d", rule.MaxVisitsPerYear, visits, key.day.Year()))
	}
}
