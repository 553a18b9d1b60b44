package flags

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/roldanp/tenderwatch/internal/audit"
	"github.com/roldanp/tenderwatch/internal/storage"
)

// Catalog identity and tuning of the price-deviation rule.
const (
	PriceRuleCode = "F-PRICE-DEV"
	PriceRuleName = "Price deviation against embedding comparables"
	PriceRuleDesc = "Flags tenders whose amount falls outside the robust range " +
		"(IQR fences / zMAD) of their most similar tenders."

	priceTopK         = 50
	priceMinNeighbors = 10
	priceZMADLimit    = 2.8

	maxTargetChunks  = 128
	maxCandidates    = 5000
	maxChunksPerCand = 64

	// statusPenalty is added to the cosine distance of a candidate whose
	// status differs from the target's.
	statusPenalty = 0.10

	priceSource     = "pipe:price_comparables"
	priceSkipSource = "pipe:price_comparables(skip)"
)

// ComputePriceFlag evaluates the price-deviation rule for one tender: pool
// the tender's chunk embeddings into a document vector, rank same-modality /
// same-sector tenders by cosine distance (plus a status penalty), and test
// the tender's amount against robust statistics of the nearest neighbors'
// amounts.
//
// Unlike the gap rule, incomplete data is not a silent skip here: a tender
// that cannot be scored gets an explicit false assignment whose evidence says
// why, so reports can tell "in range" apart from "not evaluable".
func (e *Evaluator) ComputePriceFlag(tenderID int64, ac audit.Context) error {
	target, err := e.store.GetTender(tenderID)
	if err != nil {
		return fmt.Errorf("loading tender %d: %w", tenderID, err)
	}

	rule, err := e.store.EnsureRule(PriceRuleCode, PriceRuleName, PriceRuleDesc)
	if err != nil {
		return err
	}

	apply := func(value bool, evidence, source string) error {
		_, err := e.store.ApplyFlag(storage.ApplyFlagParams{
			TenderID: tenderID,
			RuleID:   rule.ID,
			Value:    value,
			Evidence: evidence,
			Source:   source,
			At:       ac.Timestamp(),
			Actor:    ac.Actor,
		})
		if err != nil {
			return fmt.Errorf("applying price flag: %w", err)
		}
		return nil
	}

	vecs, err := e.store.ChunkVectors(tenderID, maxTargetChunks)
	if err != nil {
		return fmt.Errorf("loading chunk vectors for tender %d: %w", tenderID, err)
	}
	targetVec := poolVectors(vecs)
	if targetVec == nil {
		return apply(false, "no embedded chunks for the tender; comparables cannot be scored", priceSkipSource)
	}

	cands, err := e.store.ComparableTenders(tenderID, target.Modality, target.Sector, maxCandidates)
	if err != nil {
		return fmt.Errorf("listing comparables for tender %d: %w", tenderID, err)
	}
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	candVecs, err := e.store.ChunkVectorsForTenders(ids, maxChunksPerCand)
	if err != nil {
		return fmt.Errorf("loading comparable vectors: %w", err)
	}

	type neighbor struct {
		id     int64
		score  float64
		amount float64
	}
	var ranked []neighbor
	for _, c := range cands {
		dv := poolVectors(candVecs[c.ID])
		if dv == nil {
			continue
		}
		d := cosineDistance(targetVec, dv)
		if d < 0 {
			continue
		}
		if target.Status != "" && c.Status != "" && c.Status != target.Status {
			d += statusPenalty
		}
		ranked = append(ranked, neighbor{id: c.ID, score: d, amount: c.Amount})
	}
	if len(ranked) == 0 {
		return apply(false, "no comparables with embedded chunks to estimate a price range", priceSkipSource)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })
	top := priceTopK
	if top < priceMinNeighbors {
		top = priceMinNeighbors
	}
	if len(ranked) < top {
		top = len(ranked)
	}

	var amounts []float64
	for _, n := range ranked[:top] {
		if n.amount > 0 {
			amounts = append(amounts, n.amount)
		}
	}
	if len(amounts) < priceMinNeighbors {
		return apply(false, fmt.Sprintf(
			"only %d comparables with an amount; at least %d are required for a robust estimate",
			len(amounts), priceMinNeighbors), priceSkipSource)
	}

	if target.Amount <= 0 {
		return apply(false, "tender has no amount; price deviation not evaluated", priceSource)
	}

	st := robustStats(amounts, target.Amount)
	value := target.Amount < st.lower || target.Amount > st.upper ||
		math.Abs(st.zMAD) >= priceZMADLimit

	devStr := "-"
	if st.median != 0 {
		devStr = fmt.Sprintf("%+.1f%%", 100*(target.Amount-st.median)/st.median)
	}
	verdict := "price in range"
	if value {
		verdict = "possible price outlier"
	}
	evidence := fmt.Sprintf("%s: amount=%s; median=%s; deviation=%s; fences=[%s, %s]; zMAD=%.2f (limit %.1f); neighbors=%d",
		verdict, fmtMoney(target.Amount), fmtMoney(st.median), devStr,
		fmtMoney(st.lower), fmtMoney(st.upper), st.zMAD, priceZMADLimit, len(amounts))

	if err := apply(value, evidence, priceSource); err != nil {
		return err
	}
	e.logger.Info("price flag computed", "tender_id", tenderID, "value", value,
		"neighbors", len(amounts), "z_mad", st.zMAD)
	return nil
}

// ComputeFlags runs every catalog rule for one tender.
func (e *Evaluator) ComputeFlags(tenderID int64, ac audit.Context) error {
	if err := e.ComputeGapFlag(tenderID, ac); err != nil {
		return err
	}
	return e.ComputePriceFlag(tenderID, ac)
}

type priceStats struct {
	median, mad, zMAD float64
	q1, q3            float64
	lower, upper      float64
}

// robustStats computes the median/MAD and Tukey fences of the neighbor
// amounts plus the target's zMAD against them. A zero MAD (all neighbors
// equal) leaves zMAD at zero; the fences still catch the deviation.
func robustStats(values []float64, target float64) priceStats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var st priceStats
	st.median = percentile(sorted, 50)

	devs := make([]float64, len(sorted))
	for i, v := range sorted {
		devs[i] = math.Abs(v - st.median)
	}
	sort.Float64s(devs)
	st.mad = percentile(devs, 50)
	if st.mad != 0 && !math.IsNaN(target) {
		st.zMAD = 0.6745 * (target - st.median) / st.mad
	}

	st.q1 = percentile(sorted, 25)
	st.q3 = percentile(sorted, 75)
	iqr := st.q3 - st.q1
	st.lower = st.q1 - 1.5*iqr
	st.upper = st.q3 + 1.5*iqr
	return st
}

// percentile interpolates linearly between order statistics. Input must be
// sorted ascending.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}

// poolVectors averages the unit-normalized vectors and normalizes the mean
// (cosine pooling). Returns nil when no usable vector remains.
func poolVectors(vecs [][]float32) []float32 {
	var sum []float64
	n := 0
	for _, v := range vecs {
		nv := l2Normalize(v)
		if nv == nil {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(nv))
		}
		if len(nv) != len(sum) {
			continue
		}
		for i, f := range nv {
			sum[i] += float64(f)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	mean := make([]float32, len(sum))
	for i, f := range sum {
		mean[i] = float32(f / float64(n))
	}
	return l2Normalize(mean)
}

// l2Normalize returns a unit-length copy, or nil for zero/non-finite input.
func l2Normalize(v []float32) []float32 {
	var sq float64
	for _, f := range v {
		sq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sq)
	if norm == 0 || math.IsInf(norm, 0) || math.IsNaN(norm) {
		return nil
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// cosineDistance returns 1 - cos(a, b) for unit vectors, or -1 on a length
// mismatch.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return -1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// fmtMoney renders an amount the way the source portal does: $1.234.567.
func fmtMoney(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return "-"
	}
	sign := ""
	if x < 0 {
		sign = "-"
	}
	s := strconv.FormatFloat(math.Round(math.Abs(x)), 'f', 0, 64)
	var b []byte
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			b = append(b, '.')
		}
		b = append(b, s[i])
	}
	return sign + "$" + string(b)
}
