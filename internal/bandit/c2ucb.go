package bandit

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// sizeCoord is the index of the size-delta coordinate within a context
// vector — always the second entry of the derived-value head (§4.3,
// §4.4's creation/usage split).
const sizeCoord = 1

// Reward is the per-arm observation passed to Bandit.Update: gain is the
// usage-side benefit, creationCost is the (non-negative) cost of having
// built the index this round, zero if it already existed (§4.4).
type Reward struct {
	Gain         float64
	CreationCost float64
}

// C2UCBConfig holds the bandit's fixed hyperparameters (§3 Bandit state,
// §4.4, §6 Configuration).
type C2UCBConfig struct {
	Dim                         int
	Lambda                      float64
	Alpha0                      float64
	AlphaReductionRate          float64
	CreationCostReductionFactor float64

	// Rejection-sampling extras (§4.4 optional path, §9 Open Question:
	// computed but never gates selection).
	RejectionSamplingEnabled bool
	Delta2                   float64
	Tau                      int
	S                        float64
}

func (c C2UCBConfig) validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("bandit: dim must be positive, got %d", c.Dim)
	}
	if c.Lambda <= 0 {
		return fmt.Errorf("bandit: lambda must be positive, got %v", c.Lambda)
	}
	if c.AlphaReductionRate <= 0 {
		return fmt.Errorf("bandit: alpha reduction rate must be positive, got %v", c.AlphaReductionRate)
	}
	if c.CreationCostReductionFactor == 0 {
		return fmt.Errorf("bandit: creation cost reduction factor must be non-zero")
	}
	return nil
}

// Bandit is the C²UCB contextual combinatorial bandit (§4.4): it
// maintains V and b, computes per-arm UCBs, and updates its linear model
// from observed rewards. It holds no arm or context storage of its own —
// the round driver owns those and passes contexts in on every call.
type Bandit struct {
	cfg    C2UCBConfig
	logger *zap.Logger

	V    *mat.SymDense
	Vinv *mat.SymDense
	b    *mat.VecDense

	alpha float64
	round int

	// rejection sampling rolling state (§4.4, §7 SUPPLEMENTED FEATURES).
	rejectWindow []float64
	lastAlphaT   float64
	lastErrorUCB map[string]float64
}

// NewBandit constructs a bandit initialized to V=λI, b=0, α=α0.
func NewBandit(cfg C2UCBConfig, logger *zap.Logger) (*Bandit, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bd := &Bandit{cfg: cfg, logger: logger, alpha: cfg.Alpha0}
	bd.HardReset()
	return bd, nil
}

// Dim returns the bandit's fixed context dimension.
func (bd *Bandit) Dim() int {
	return bd.cfg.Dim
}

// Alpha returns the current (decayed) exploration coefficient.
func (bd *Bandit) Alpha() float64 {
	return bd.alpha
}

// HardReset reinitializes V=λI, b=0, α=α0 (§4.4 hard reset).
func (bd *Bandit) HardReset() {
	d := bd.cfg.Dim
	lambdaI := make([]float64, d*d)
	for i := 0; i < d; i++ {
		lambdaI[i*d+i] = bd.cfg.Lambda
	}
	bd.V = mat.NewSymDense(d, lambdaI)
	bd.b = mat.NewVecDense(d, nil)
	bd.alpha = bd.cfg.Alpha0
	bd.recomputeInverse()
}

// recomputeInverse refreshes V⁻¹ via Cholesky factorization. If V is no
// longer positive definite (should not happen while λ>0, §7
// ArithmeticError) it reinitializes V to λI, leaving b and α unchanged,
// and logs the recovery.
func (bd *Bandit) recomputeInverse() {
	d := bd.cfg.Dim
	var chol mat.Cholesky
	if ok := chol.Factorize(bd.V); !ok {
		bd.logger.Warn("bandit: V lost positive-definiteness, reinitializing to lambda*I")
		lambdaI := make([]float64, d*d)
		for i := 0; i < d; i++ {
			lambdaI[i*d+i] = bd.cfg.Lambda
		}
		bd.V = mat.NewSymDense(d, lambdaI)
		if ok := chol.Factorize(bd.V); !ok {
			panic("bandit: lambda*I is not positive definite; lambda must be > 0")
		}
	}
	var vinv mat.SymDense
	if err := chol.InverseTo(&vinv); err != nil {
		bd.logger.Error("bandit: failed to invert V", zap.Error(err))
		return
	}
	bd.Vinv = &vinv
}

// splitContext separates a context vector into its creation part (only
// the size-delta coordinate) and usage part (everything else, size-delta
// zeroed), per §4.4 step 1.
func splitContext(x []float64) (usage, creation []float64) {
	usage = append([]float64(nil), x...)
	creation = make([]float64, len(x))
	creation[sizeCoord] = x[sizeCoord]
	usage[sizeCoord] = 0
	return usage, creation
}

// Select computes the UCB for every arm in contexts (§4.4 selection)
// and decays α for the next round. contexts maps arm fingerprint to its
// context vector; all vectors must have length Dim().
func (bd *Bandit) Select(contexts map[string][]float64) (map[string]float64, error) {
	d := bd.cfg.Dim
	what := mat.NewVecDense(d, nil)
	what.MulVec(bd.Vinv, bd.b)

	alphaT := 0.0
	if bd.cfg.RejectionSamplingEnabled {
		alphaT = bd.computeAlphaT(len(contexts))
		bd.lastAlphaT = alphaT
		bd.lastErrorUCB = make(map[string]float64, len(contexts))
	}

	ucbs := make(map[string]float64, len(contexts))
	for fp, x := range contexts {
		if len(x) != d {
			return nil, fmt.Errorf("bandit: context for arm %s has dim %d, want %d", fp, len(x), d)
		}
		xVec := mat.NewVecDense(d, x)

		creationCost := what.AtVec(sizeCoord) * x[sizeCoord]
		meanReward := mat.Dot(what, xVec) - creationCost

		tmp := mat.NewVecDense(d, nil)
		tmp.MulVec(bd.Vinv, xVec)
		quad := mat.Dot(xVec, tmp)
		if quad < 0 {
			quad = 0 // guards against floating-point underflow making V⁻¹ look non-PSD
		}

		ucb := meanReward + bd.alpha*math.Sqrt(quad) + creationCost/bd.cfg.CreationCostReductionFactor
		ucbs[fp] = ucb

		if bd.cfg.RejectionSamplingEnabled {
			bd.lastErrorUCB[fp] = 2 * alphaT * quad
		}
	}

	bd.alpha /= bd.cfg.AlphaReductionRate
	bd.round++
	return ucbs, nil
}

// Update applies the rank-1 usage and creation updates for every played
// arm (§4.4 update) and refreshes V⁻¹.
func (bd *Bandit) Update(played map[string]Reward, contexts map[string][]float64) error {
	for fp, r := range played {
		x, ok := contexts[fp]
		if !ok {
			return fmt.Errorf("bandit: update: no context supplied for played arm %s", fp)
		}
		usage, creation := splitContext(x)
		usageVec := mat.NewVecDense(bd.cfg.Dim, usage)
		creationVec := mat.NewVecDense(bd.cfg.Dim, creation)

		bd.V.SymRankOne(bd.V, 1, usageVec)
		bd.b.AddScaledVec(bd.b, r.Gain, usageVec)

		bd.V.SymRankOne(bd.V, 1, creationVec)
		bd.b.AddScaledVec(bd.b, -r.CreationCost, creationVec)
	}
	bd.recomputeInverse()
	bd.recordRejectionOutcome(played)
	return nil
}

// WorkloadChangeTrigger applies the forgetting rule of §4.4: fractions
// above 0.5 trigger a hard reset; any smaller fraction partially
// discounts V and b (V = λI + (1-2f)V, b = (1-2f)b), and α is reset as
// well when the fraction is above 0.1.
func (bd *Bandit) WorkloadChangeTrigger(fraction float64) {
	if fraction > 0.5 {
		bd.logger.Info("bandit: workload shift exceeds hard-reset threshold", zap.Float64("fraction", fraction))
		bd.HardReset()
		return
	}

	factor := 1 - 2*fraction
	d := bd.cfg.Dim

	scaledV := mat.NewSymDense(d, nil)
	scaledV.ScaleSym(factor, bd.V)
	lambdaI := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		lambdaI.SetSym(i, i, bd.cfg.Lambda)
	}
	scaledV.AddSym(scaledV, lambdaI)
	bd.V = scaledV

	scaledB := mat.NewVecDense(d, nil)
	scaledB.ScaleVec(factor, bd.b)
	bd.b = scaledB

	if fraction > 0.1 {
		bd.alpha = bd.cfg.Alpha0
	}
	bd.recomputeInverse()
	bd.logger.Debug("bandit: partial forgetting applied", zap.Float64("fraction", fraction))
}

// computeAlphaT implements the rejection-sampling confidence radius
// α_t = sqrt(d·ln((1 + t·m/λ)/δ₂)) + sqrt(λ)·S, per
// bandit_c3ucb_v2.py::compute_alpah_t. m is the number of arms under
// consideration this round.
func (bd *Bandit) computeAlphaT(m int) float64 {
	d := float64(bd.cfg.Dim)
	t := float64(bd.round)
	delta2 := bd.cfg.Delta2
	if delta2 <= 0 {
		delta2 = 0.05
	}
	inner := (1 + t*float64(m)/bd.cfg.Lambda) / delta2
	return math.Sqrt(d*math.Log(inner)) + math.Sqrt(bd.cfg.Lambda)*bd.cfg.S
}

// recordRejectionOutcome maintains the rolling "badness" window used by
// RejectionStats: one entry per round, holding the number of played arms
// whose error-UCB from the latest Select is positive. This is a
// coarse proxy for the original's model-rejection test and is purely
// diagnostic — it never influences Select or Update.
func (bd *Bandit) recordRejectionOutcome(played map[string]Reward) {
	if !bd.cfg.RejectionSamplingEnabled {
		return
	}
	rejected := 0.0
	for fp := range played {
		if bd.lastErrorUCB[fp] > 0 {
			rejected++
		}
	}
	tau := bd.cfg.Tau
	if tau <= 0 {
		tau = 20
	}
	bd.rejectWindow = append(bd.rejectWindow, rejected)
	if len(bd.rejectWindow) > tau {
		bd.rejectWindow = bd.rejectWindow[len(bd.rejectWindow)-tau:]
	}
}

// RejectionStats reports the diagnostic rejection-sampling quantities
// computed during the most recent Select/Update pair (§4.4 optional
// path, §9 Open Question: exposed for tests/tuning, never gates
// selection).
type RejectionStats struct {
	AlphaT        float64
	ErrorUCB      map[string]float64
	RollingBadness float64
}

// RejectionStats returns the latest rejection-sampling diagnostics. The
// zero value is returned when RejectionSamplingEnabled is false.
func (bd *Bandit) RejectionStats() RejectionStats {
	if !bd.cfg.RejectionSamplingEnabled {
		return RejectionStats{}
	}
	tau := bd.cfg.Tau
	if tau <= 0 {
		tau = 20
	}
	sum := 0.0
	for _, v := range bd.rejectWindow {
		sum += v
	}
	return RejectionStats{
		AlphaT:         bd.lastAlphaT,
		ErrorUCB:       bd.lastErrorUCB,
		RollingBadness: sum / float64(tau),
	}
}

// Weights returns a copy of the current ŵ = V⁻¹b estimate, exposed for
// tests (§8 property 5: after hard reset ŵ is zero).
func (bd *Bandit) Weights() []float64 {
	what := mat.NewVecDense(bd.cfg.Dim, nil)
	what.MulVec(bd.Vinv, bd.b)
	out := make([]float64, bd.cfg.Dim)
	for i := range out {
		out[i] = what.AtVec(i)
	}
	return out
}

// BiasVector returns a copy of b, exposed for tests (§8 scenario S6).
func (bd *Bandit) BiasVector() []float64 {
	out := make([]float64, bd.cfg.Dim)
	for i := range out {
		out[i] = bd.b.AtVec(i)
	}
	return out
}

// Covariance returns a copy of V as a flattened row-major d×d slice,
// exposed for tests (§8 scenario S6).
func (bd *Bandit) Covariance() []float64 {
	d := bd.cfg.Dim
	out := make([]float64, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			out[i*d+j] = bd.V.At(i, j)
		}
	}
	return out
}
