// Package generator produces synthetic raw transactions with realistic type,
// status and amount distributions.
package generator

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
)

// Defaults used when a Config field is zero.
const (
	DefaultRecords   = 25000
	DefaultCustomers = 1000
	DefaultMerchants = 200
	DefaultDays      = 30
)

type weighted struct {
	value  string
	weight float64
}

var transactionTypes = []weighted{
	{domain.TypePurchase, 0.65},
	{domain.TypeRefund, 0.05},
	{domain.TypeTransfer, 0.15},
	{domain.TypePayment, 0.10},
	{domain.TypeWithdrawal, 0.05},
}

var statuses = []weighted{
	{domain.StatusCompleted, 0.85},
	{domain.StatusPending, 0.10},
	{domain.StatusFailed, 0.03},
	{domain.StatusReversed, 0.02},
}

// Categories maps each spending category to its merchant types.
var Categories = map[string][]string{
	"food":          {"Restaurant", "Grocery", "Cafe", "FastFood"},
	"entertainment": {"Cinema", "Theater", "StreamingService", "GameStore"},
	"travel":        {"Airline", "Hotel", "CarRental", "TravelAgency"},
	"utilities":     {"Electric", "Water", "Internet", "Phone"},
	"retail":        {"Clothing", "Electronics", "HomeGoods", "OnlineRetail"},
	"healthcare":    {"Pharmacy", "Doctor", "Hospital", "Insurance"},
}

// categoryOrder fixes map iteration so seeded runs are reproducible.
var categoryOrder = []string{"food", "entertainment", "travel", "utilities", "retail", "healthcare"}

var merchantSuffixes = []string{"Inc", "LLC", "Co", "Express", "Shop", "Mart", "Plus"}

var commonPayments = []float64{9.99, 14.99, 29.99, 49.99, 99.99}

var withdrawalAmounts = []float64{20, 40, 60, 80, 100, 200, 300, 500}

// Config sizes a generated dataset.
type Config struct {
	Records   int
	Customers int
	Merchants int
	Days      int
	// Seed makes output reproducible; zero picks a random seed.
	Seed int64
	// End is the latest possible timestamp; zero means now.
	End time.Time
}

func (c Config) withDefaults() Config {
	if c.Records <= 0 {
		c.Records = DefaultRecords
	}
	if c.Customers <= 0 {
		c.Customers = DefaultCustomers
	}
	if c.Merchants <= 0 {
		c.Merchants = DefaultMerchants
	}
	if c.Days <= 0 {
		c.Days = DefaultDays
	}
	if c.End.IsZero() {
		c.End = time.Now()
	}
	return c
}

type merchant struct {
	id       string
	name     string
	category string
}

// Generator draws transactions from fixed customer and merchant pools.
type Generator struct {
	cfg       Config
	src       *rand.ChaCha8
	rng       *rand.Rand
	customers []string
	merchants []merchant
	start     time.Time
}

// New creates a generator for cfg.
func New(cfg Config) *Generator {
	cfg = cfg.withDefaults()

	var seed [32]byte
	if cfg.Seed != 0 {
		binary.LittleEndian.PutUint64(seed[:8], uint64(cfg.Seed))
	} else {
		binary.LittleEndian.PutUint64(seed[:8], rand.Uint64())
		binary.LittleEndian.PutUint64(seed[8:16], rand.Uint64())
	}
	src := rand.NewChaCha8(seed)

	g := &Generator{
		cfg:   cfg,
		src:   src,
		rng:   rand.New(src),
		start: cfg.End.Add(-time.Duration(cfg.Days) * 24 * time.Hour),
	}
	g.customers = make([]string, cfg.Customers)
	for i := range g.customers {
		g.customers[i] = fmt.Sprintf("CUST%06d", i+1)
	}
	g.merchants = g.newMerchants(cfg.Merchants)
	return g
}

func (g *Generator) newMerchants(n int) []merchant {
	type kind struct{ category, name string }
	var kinds []kind
	for _, c := range categoryOrder {
		for _, name := range Categories[c] {
			kinds = append(kinds, kind{c, name})
		}
	}

	out := make([]merchant, n)
	for i := range out {
		k := kinds[g.rng.IntN(len(kinds))]
		out[i] = merchant{
			id:       fmt.Sprintf("MERCH%04d", i+1),
			name:     k.name + " " + merchantSuffixes[g.rng.IntN(len(merchantSuffixes))],
			category: k.category,
		}
	}
	return out
}

// Generate returns cfg.Records transactions.
func (g *Generator) Generate() []domain.RawTransaction {
	out := make([]domain.RawTransaction, g.cfg.Records)
	for i := range out {
		out[i] = g.Transaction()
	}
	return out
}

// Transaction draws one transaction. Only purchases and refunds carry a
// merchant and category.
func (g *Generator) Transaction() domain.RawTransaction {
	typ := g.choose(transactionTypes)
	tx := domain.RawTransaction{
		TransactionID:   g.newID(),
		CustomerID:      g.customers[g.rng.IntN(len(g.customers))],
		Timestamp:       g.timestamp(),
		Amount:          g.amount(typ),
		TransactionType: typ,
		Status:          g.choose(statuses),
	}
	if typ == domain.TypePurchase || typ == domain.TypeRefund {
		m := g.merchants[g.rng.IntN(len(g.merchants))]
		tx.Merchant = m.id + ":" + m.name
		tx.Category = m.category
	}
	return tx
}

func (g *Generator) newID() string {
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		// ChaCha8 reads never fail.
		panic(err)
	}
	return id.String()
}

func (g *Generator) timestamp() string {
	span := int64(g.cfg.End.Sub(g.start) / time.Second)
	ts := g.start.Add(time.Duration(g.rng.Int64N(span+1)) * time.Second)
	return ts.Format(domain.TimestampLayout)
}

func (g *Generator) amount(typ string) float64 {
	switch typ {
	case domain.TypePurchase:
		// right-skewed: mostly small, occasionally large
		return round2(math.Min(g.gamma(1.5, 20), 1000))
	case domain.TypeRefund:
		return round2(-math.Min(g.gamma(1.2, 15), 500))
	case domain.TypeTransfer:
		if g.rng.Float64() < 0.1 {
			return round2(g.uniform(1000, 10000))
		}
		return round2(g.uniform(50, 1000))
	case domain.TypePayment:
		if g.rng.Float64() < 0.3 {
			return commonPayments[g.rng.IntN(len(commonPayments))]
		}
		return round2(g.uniform(10, 500))
	default:
		return withdrawalAmounts[g.rng.IntN(len(withdrawalAmounts))]
	}
}

func (g *Generator) choose(options []weighted) string {
	var total float64
	for _, o := range options {
		total += o.weight
	}
	r := g.rng.Float64() * total
	for _, o := range options {
		if r < o.weight {
			return o.value
		}
		r -= o.weight
	}
	return options[len(options)-1].value
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// gamma samples Gamma(shape, scale) with the Marsaglia-Tsang method. shape
// must be at least 1.
func (g *Generator) gamma(shape, scale float64) float64 {
	d := shape - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := g.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := g.rng.Float64()
		if u < 1-0.0331*x*x*x*x || math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
