package plan

import (
	"errors"
	"time"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/repository"
)

var ErrNoSuchPlan = errors.New("no such plan")

// Eligibility is the outcome of a subscription request for a plan.
type Eligibility int

const (
	Allowed Eligibility = iota
	DeniedFull
	DeniedAdminOnly
	Nonexistent
)

// Plan describes one subscription plan. The catalog owns all instances;
// treat them as read-only.
type Plan struct {
	// Name is the plan's identifier at the payment processor.
	Name      string
	HumanName string
	// ID is the processor-side numeric plan id, as a string.
	ID            string
	Description   string
	PricePerMonth float64
	// SigninLimit caps monthly signins; nil means unlimited.
	SigninLimit *int
	// MemberLimit caps concurrent members; nil means uncapped.
	MemberLimit *int
	// Legacy names the modern counterpart when this plan is grandfathered.
	Legacy     string
	Selectable bool
	AdminOnly  bool
	Desk       bool
}

// Catalog is the immutable plan table, built once at startup. Capacity
// checks hit the member store live.
type Catalog struct {
	cfg     *config.Config
	members *repository.MemberRepository
	plans   []*Plan
	byName  map[string]*Plan
}

// NewCatalog builds the plan table. planIDs overrides processor plan ids by
// plan name; pass nil to keep the built-in defaults.
func NewCatalog(cfg *config.Config, members *repository.MemberRepository, planIDs map[string]string) *Catalog {
	hiveLimit := cfg.Signup.HiveLimit
	liteVisits := cfg.Signup.LiteVisits
	zero := 0

	plans := []*Plan{
		{Name: "newfull", HumanName: "Standard", ID: "25716", PricePerMonth: 195,
			Description: "The standard plan.", Selectable: true},
		{Name: "newstudent", HumanName: "Student", ID: "25967", PricePerMonth: 60,
			Description: "A cheap plan for students."},
		{Name: "newyearly", HumanName: "Yearly", ID: "25968", PricePerMonth: 97.5,
			Description: "Bills every year instead.", Selectable: true},
		{Name: "newhive", HumanName: "Premium", ID: "25790", PricePerMonth: 325,
			Description: "You get a private desk too!", MemberLimit: &hiveLimit,
			Desk: true, Selectable: true},

		{Name: "full", HumanName: "Old Standard", ID: "1987", PricePerMonth: 125,
			Description: "The old standard plan.", Legacy: "newfull", AdminOnly: true},
		{Name: "hardship", HumanName: "Old Student", ID: "2537", PricePerMonth: 50,
			Description: "Old version of the student plan.", Legacy: "newstudent", AdminOnly: true},
		{Name: "supporter", HumanName: "Monthly Donation", ID: "1988", PricePerMonth: 10,
			Description: "A monthly donation to the space.", SigninLimit: &zero, Selectable: true},
		{Name: "family", HumanName: "Family", ID: "3659", PricePerMonth: 50,
			Description: "Get a family discount.", AdminOnly: true},
		{Name: "worktrade", HumanName: "Free Ride", ID: "6608", PricePerMonth: 0,
			Description: "Free until we cancel it.", AdminOnly: true},
		{Name: "comped", HumanName: "Free Year", ID: "15451", PricePerMonth: 0,
			Description: "One year free.", AdminOnly: true},
		{Name: "threecomp", HumanName: "Free Three Months", ID: "18158", PricePerMonth: 0,
			Description: "Three months free.", AdminOnly: true},
		{Name: "yearly", HumanName: "Old Yearly", ID: "18552", PricePerMonth: 125,
			Description: "Old yearly plan.", Legacy: "newyearly", AdminOnly: true},
		{Name: "fiveyear", HumanName: "Five Years", ID: "18853", PricePerMonth: 83,
			Description: "Pay for five years now."},
		{Name: "hive", HumanName: "Old Premium", ID: "19616", PricePerMonth: 275,
			Description: "Old premium plan.", MemberLimit: &hiveLimit,
			Legacy: "newhive", Desk: true, AdminOnly: true},
		{Name: "lite", HumanName: "Lite", ID: "25791", PricePerMonth: 125,
			Description: "A limited but cheaper plan.", SigninLimit: &liteVisits, Selectable: true},
	}

	byName := make(map[string]*Plan, len(plans)+1)
	for _, p := range plans {
		if id, ok := planIDs[p.Name]; ok && id != "" {
			p.ID = id
		}
		byName[p.Name] = p
	}
	// Historical records carry the capitalized spelling.
	byName["Hive"] = byName["hive"]

	return &Catalog{cfg: cfg, members: members, plans: plans, byName: byName}
}

func (c *Catalog) GetByName(name string) (*Plan, error) {
	p, ok := c.byName[name]
	if !ok {
		return nil, ErrNoSuchPlan
	}
	return p, nil
}

// LegacyPair returns the plan's grandfathered or modern counterpart, or nil.
// Pairing is symmetric and exactly one level deep.
func (c *Catalog) LegacyPair(p *Plan) *Plan {
	if p.Legacy != "" {
		return c.byName[p.Legacy]
	}
	for _, other := range c.plans {
		if other.Legacy == p.Name {
			return other
		}
	}
	return nil
}

// IsFull reports whether the plan is at capacity. Members on the legacy pair
// count against the same limit, as do suspended and unfinished signups that
// changed within the grace window.
func (c *Catalog) IsFull(p *Plan) (bool, error) {
	if p.MemberLimit == nil {
		return false, nil
	}

	names := []string{p.Name}
	if pair := c.LegacyPair(p); pair != nil {
		names = append(names, pair.Name)
	}
	if p.Name == "hive" || p.Legacy == "newhive" {
		names = append(names, "Hive")
	}

	active, err := c.members.CountActiveOnPlans(names)
	if err != nil {
		return false, err
	}
	cutoff := time.Now().AddDate(0, 0, -c.cfg.Signup.PlanGraceDays)
	pending, err := c.members.CountPendingOnPlans(names, cutoff)
	if err != nil {
		return false, err
	}

	return active+pending >= int64(*p.MemberLimit), nil
}

// PlansToShow splits the selectable plans into open and at-capacity lists
// for the plan chooser.
func (c *Catalog) PlansToShow() (selectable, unavailable []*Plan, err error) {
	for _, p := range c.plans {
		if !p.Selectable {
			continue
		}
		full, err := c.IsFull(p)
		if err != nil {
			return nil, nil, err
		}
		if full {
			unavailable = append(unavailable, p)
		} else {
			selectable = append(selectable, p)
		}
	}
	return selectable, unavailable, nil
}

// CanSubscribe decides whether a signup may start on the named plan.
func (c *Catalog) CanSubscribe(name string) (Eligibility, error) {
	p, err := c.GetByName(name)
	if err != nil {
		return Nonexistent, nil
	}
	full, err := c.IsFull(p)
	if err != nil {
		return Nonexistent, err
	}
	if full {
		return DeniedFull, nil
	}
	if p.AdminOnly {
		return DeniedAdminOnly, nil
	}
	return Allowed, nil
}

// SigninsRemaining returns how many signins the member has left this month.
// Nil means unlimited. Never negative.
func (c *Catalog) SigninsRemaining(m *model.Member) (*int, error) {
	p, err := c.GetByName(m.Plan)
	if err != nil {
		return nil, err
	}
	if p.SigninLimit == nil {
		return nil, nil
	}
	remaining := *p.SigninLimit - m.Signins
	if remaining < 0 {
		remaining = 0
	}
	return &remaining, nil
}
