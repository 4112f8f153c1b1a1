package bandit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// QueryInput is one query occurrence fed to the round driver for a
// single round (the parsed form of the §6 workload file line).
type QueryInput struct {
	ID          int64
	QueryString string
	Predicates  map[string][]string
	Payload     map[string][]string
}

// RoundConfig holds the round-level knobs of §6 Configuration that are
// not already owned by the bandit or arm-factory configs.
type RoundConfig struct {
	MaxIndexesPerTable   int
	Budget               Budget
	StopExplorationRound int
	QueryMemory          int
	HypRounds            int
}

// RoundMetric is one entry of the per-round report record (§6).
type RoundMetric struct {
	Round       int
	MeasureName string
	Value       float64
}

// Measure name constants (§6 per-round report record).
const (
	MeasureBatchTime          = "batch_time"
	MeasureCreationCost       = "creation_cost"
	MeasureExecutionCost      = "execution_cost"
	MeasureRecommendationCost = "recommendation_cost"
	MeasureMemoryCost         = "memory_cost"
	MeasureHypBatchTime       = "hyp_batch_time"
)

// RoundReport summarizes one completed round for the caller (report
// sink, tests).
type RoundReport struct {
	Round       int
	ChosenArms  []string
	ToAdd       []string
	ToDrop      []string
	Metrics     []RoundMetric
	Frozen      bool
	NewFraction float64
}

// RoundDriver orchestrates one round end to end (§4.6): query store
// update, arm generation, context encoding, selection, diff/apply,
// execution, reward aggregation, and bandit update.
type RoundDriver struct {
	catalog    *Catalog
	store      *QueryStore
	armStore   *ArmStore
	armFactory *ArmFactory
	encoder    *ContextEncoder
	model      *Bandit
	oracle     *Oracle
	port       Port
	cfg        RoundConfig
	logger     *zap.Logger

	round      int
	chosenLast map[string]struct{}

	// frozen/bestSuperArm track the §4.6 step 6 "best-performing super-arm
	// seen so far": superArmScore/superArmCount accumulate a running mean
	// of batch time per distinct super-arm starting from the first
	// non-hypothetical round (sim_c3ucb_vR.py's super_arm_scores/
	// super_arm_counts), bestSuperArm is recomputed after every such round,
	// and frozen records whether the current round's selection has been
	// overridden by bestSuperArm (actual round number > StopExplorationRound).
	frozen        bool
	bestSuperArm  []string
	superArmScore map[string]float64
	superArmCount map[string]int

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// RoundDriverDeps bundles the collaborators a RoundDriver is built from.
type RoundDriverDeps struct {
	Catalog    *Catalog
	Store      *QueryStore
	ArmStore   *ArmStore
	ArmFactory *ArmFactory
	Encoder    *ContextEncoder
	Model      *Bandit
	Oracle     *Oracle
	Port       Port
	Logger     *zap.Logger
}

// NewRoundDriver constructs a driver ready to run rounds.
func NewRoundDriver(deps RoundDriverDeps, cfg RoundConfig) *RoundDriver {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundDriver{
		catalog:       deps.Catalog,
		store:         deps.Store,
		armStore:      deps.ArmStore,
		armFactory:    deps.ArmFactory,
		encoder:       deps.Encoder,
		model:         deps.Model,
		oracle:        deps.Oracle,
		port:          deps.Port,
		cfg:           cfg,
		logger:        logger,
		chosenLast:    make(map[string]struct{}),
		superArmScore: make(map[string]float64),
		superArmCount: make(map[string]int),
		shutdownCh:    make(chan struct{}),
	}
}

// RunRound executes one full round against batch (§4.6). It is the pure,
// synchronous core the Start/Shutdown background loop drives; tests call
// it directly.
func (d *RoundDriver) RunRound(ctx context.Context, batch []QueryInput) (RoundReport, error) {
	d.round++
	round := d.round
	hypRound := round <= d.cfg.HypRounds

	var batchIDs []int64
	for _, q := range batch {
		rec, err := d.store.Observe(ctx, q.ID, q.QueryString, q.Predicates, q.Payload, round)
		if err != nil {
			return RoundReport{}, fmt.Errorf("bandit: round %d: observing query %d: %w", round, q.ID, err)
		}
		_ = rec
		batchIDs = append(batchIDs, q.ID)
	}
	d.store.GC(round, d.cfg.QueryMemory)

	past, newThisRound := d.store.Classify(batchIDs, round)
	newFraction := PastSeenRatio(past, newThisRound)
	if len(newThisRound) > 0 {
		d.model.WorkloadChangeTrigger(newFraction)
	}

	activeArms := make(map[string]*Arm)
	for _, id := range past {
		rec, ok := d.store.Get(id)
		if !ok {
			continue
		}
		touched, err := d.armFactory.GenerateForQuery(ctx, rec)
		if err != nil {
			return RoundReport{}, fmt.Errorf("bandit: round %d: generating arms for query %d: %w", round, id, err)
		}
		for fp, a := range touched {
			activeArms[fp] = a
		}
	}

	dbSize, err := d.port.DatabaseSize(ctx)
	if err != nil {
		return RoundReport{}, fmt.Errorf("bandit: round %d: %w", round, PortError(err))
	}

	contexts := make(map[string][]float64, len(activeArms))
	for fp, a := range activeArms {
		usage := a.LastBatchUsage
		contexts[fp] = d.encoder.Encode(a, usage, dbSize, d.chosenLast)
	}

	actualRound := round - d.cfg.HypRounds
	useBest := !hypRound && actualRound > d.cfg.StopExplorationRound && d.bestSuperArm != nil

	var chosenNow []string
	if useBest {
		d.frozen = true
		chosenNow = d.bestSuperArm
	} else {
		ucbs, err := d.model.Select(contexts)
		if err != nil {
			return RoundReport{}, fmt.Errorf("bandit: round %d: select: %w", round, err)
		}
		chosenNow = d.oracle.Select(ucbs, activeArms, d.cfg.Budget)
	}

	toAdd, toDrop := diff(d.chosenLast, chosenNow)

	if err := d.applyDiff(ctx, toDrop, toAdd, activeArms, hypRound); err != nil {
		d.rollback(ctx, toAdd, activeArms, hypRound)
		return RoundReport{}, err
	}
	creationCosts, err := d.createChosen(ctx, toAdd, activeArms, hypRound)
	if err != nil {
		d.rollback(ctx, toAdd, activeArms, hypRound)
		return RoundReport{}, err
	}

	execResult, err := d.executeBatch(ctx, batch, activeArms, hypRound)
	if err != nil {
		d.rollback(ctx, toAdd, activeArms, hypRound)
		return RoundReport{}, err
	}

	rewards := d.computeRewards(execResult, activeArms, creationCosts)

	played := make(map[string]Reward, len(chosenNow))
	for _, fp := range chosenNow {
		played[fp] = rewards[fp]
	}
	if err := d.model.Update(played, contexts); err != nil {
		return RoundReport{}, fmt.Errorf("bandit: round %d: update: %w", round, err)
	}

	d.chosenLast = toSet(chosenNow)

	if !hypRound {
		d.recordSuperArmScore(chosenNow, execResult.totalBatchTime)
	}

	pds, err := d.port.CurrentPDSSize(ctx)
	if err != nil {
		pds = 0
	}

	metrics := []RoundMetric{
		{Round: round, MeasureName: MeasureCreationCost, Value: sumCreation(creationCosts)},
		{Round: round, MeasureName: MeasureExecutionCost, Value: execResult.totalExecCost},
		{Round: round, MeasureName: MeasureMemoryCost, Value: pds},
	}
	if hypRound {
		metrics = append(metrics, RoundMetric{Round: round, MeasureName: MeasureHypBatchTime, Value: execResult.totalBatchTime})
	} else {
		metrics = append(metrics, RoundMetric{Round: round, MeasureName: MeasureBatchTime, Value: execResult.totalBatchTime})
	}

	d.logger.Info("round complete",
		zap.Int("round", round),
		zap.Strings("chosen", chosenNow),
		zap.Int("to_add", len(toAdd)),
		zap.Int("to_drop", len(toDrop)),
		zap.Bool("frozen", d.frozen),
	)

	return RoundReport{
		Round:       round,
		ChosenArms:  chosenNow,
		ToAdd:       toAdd,
		ToDrop:      toDrop,
		Metrics:     metrics,
		Frozen:      d.frozen,
		NewFraction: newFraction,
	}, nil
}

func (d *RoundDriver) applyDiff(ctx context.Context, toDrop, toAdd []string, arms map[string]*Arm, hyp bool) error {
	for _, fp := range toDrop {
		arm, ok := arms[fp]
		if !ok {
			arm2, ok2 := d.armStore.Get(fp)
			if !ok2 {
				continue
			}
			arm = arm2
		}
		if err := d.dropIndex(ctx, arm, hyp); err != nil {
			return fmt.Errorf("bandit: dropping %s: %w", arm.Name, PortError(err))
		}
	}
	return nil
}

func (d *RoundDriver) createChosen(ctx context.Context, toAdd []string, arms map[string]*Arm, hyp bool) (map[string]float64, error) {
	costs := make(map[string]float64, len(toAdd))
	for _, fp := range toAdd {
		arm, ok := arms[fp]
		if !ok {
			continue
		}
		cost, err := d.createIndex(ctx, arm, hyp)
		if err != nil {
			return nil, fmt.Errorf("bandit: creating %s: %w", arm.Name, PortError(err))
		}
		costs[fp] = cost
	}
	return costs, nil
}

func (d *RoundDriver) createIndex(ctx context.Context, arm *Arm, hyp bool) (float64, error) {
	if hyp {
		if hc, ok := d.port.(HypotheticalPort); ok {
			return 0, hc.CreateHypotheticalIndex(ctx, arm.Table, arm.KeyCols, arm.IncludeCols, arm.Name)
		}
	}
	return d.port.CreateIndex(ctx, arm.Table, arm.KeyCols, arm.IncludeCols, arm.Name)
}

func (d *RoundDriver) dropIndex(ctx context.Context, arm *Arm, hyp bool) error {
	if hyp {
		if hc, ok := d.port.(HypotheticalPort); ok {
			return hc.DropHypotheticalIndex(ctx, arm.Name, arm.Table)
		}
	}
	return d.port.DropIndex(ctx, arm.Name, arm.Table)
}

// rollback drops every index the round just created, per §5
// cancellation semantics.
func (d *RoundDriver) rollback(ctx context.Context, toAdd []string, arms map[string]*Arm, hyp bool) {
	for _, fp := range toAdd {
		arm, ok := arms[fp]
		if !ok {
			continue
		}
		if err := d.dropIndex(ctx, arm, hyp); err != nil {
			d.logger.Error("bandit: rollback failed to drop index", zap.String("index", arm.Name), zap.Error(err))
		}
	}
}

type batchExecution struct {
	totalExecCost  float64
	totalBatchTime float64
	rewards        map[string]float64 // arm fingerprint -> accumulated usage gain
	usageCounts    map[string]float64 // arm fingerprint -> count of batch usages
}

func (d *RoundDriver) executeBatch(ctx context.Context, batch []QueryInput, arms map[string]*Arm, hyp bool) (batchExecution, error) {
	armByName := make(map[string]*Arm, len(arms))
	for _, a := range arms {
		armByName[a.Name] = a
	}

	result := batchExecution{
		rewards:     make(map[string]float64),
		usageCounts: make(map[string]float64),
	}

	for _, a := range arms {
		a.LastBatchUsage = 0
	}

	scanCap := d.store.ScanHistoryCap()
	tableScanKind, clusteredKind, nonClusteredKind := ScanTable, ScanClusteredIndex, ScanNonClusteredIndex
	if hyp {
		tableScanKind, clusteredKind, nonClusteredKind = ScanTableHyp, ScanClusteredIndexHyp, ScanNonClusteredIndexHyp
	}

	for _, q := range batch {
		exec, err := d.runQuery(ctx, q.QueryString, hyp)
		if err != nil {
			d.logger.Warn("bandit: plan/execution stats unavailable, contributing zero reward",
				zap.Int64("query_id", q.ID), zap.Error(err))
			continue
		}
		result.totalExecCost += exec.ExecCost
		result.totalBatchTime += exec.ExecCost

		rec, hasRec := d.store.Get(q.ID)

		maxTableScan := make(map[string]float64)
		for _, ts := range exec.TableScans {
			if ts.Elapsed > maxTableScan[ts.Table] {
				maxTableScan[ts.Table] = ts.Elapsed
			}
			if hasRec {
				rec.RecordScanTime(tableScanKind, ts.Table, ts.Elapsed, scanCap)
			}
		}
		for _, cu := range exec.ClusteredUsage {
			if cu.Elapsed > maxTableScan[cu.Table] {
				maxTableScan[cu.Table] = cu.Elapsed
			}
			if hasRec {
				rec.RecordScanTime(clusteredKind, cu.Table, cu.Elapsed, scanCap)
			}
		}

		nonClusteredPerTable := make(map[string]int)
		for _, u := range exec.NonClusteredUsage {
			nonClusteredPerTable[u.Table]++
		}

		for _, u := range exec.NonClusteredUsage {
			if hasRec {
				rec.RecordScanTime(nonClusteredKind, u.Table, u.Elapsed, scanCap)
			}
			arm, ok := armByName[u.IndexName]
			if !ok {
				continue
			}
			arm.LastBatchUsage++
			result.usageCounts[arm.Fingerprint]++
			count := nonClusteredPerTable[u.Table]
			if count == 0 {
				continue
			}
			result.rewards[arm.Fingerprint] += (maxTableScan[u.Table] - u.Elapsed) / float64(count)
		}
	}
	return result, nil
}

func (d *RoundDriver) runQuery(ctx context.Context, sql string, hyp bool) (ExecutionResult, error) {
	if hyp {
		if hc, ok := d.port.(HypotheticalPort); ok {
			return hc.ExecuteQueryHypothetical(ctx, sql)
		}
	}
	return d.port.ExecuteQuery(ctx, sql)
}

func (d *RoundDriver) computeRewards(exec batchExecution, arms map[string]*Arm, creationCosts map[string]float64) map[string]Reward {
	rewards := make(map[string]Reward, len(arms))
	for fp := range arms {
		gain := exec.rewards[fp]
		creation := creationCosts[fp]
		rewards[fp] = Reward{Gain: gain - creation, CreationCost: creation}
	}
	return rewards
}

// recordSuperArmScore folds batchTime into the running mean kept for the
// distinct super-arm chosen, then recomputes the best-so-far candidate
// (sim_c3ucb_vR.py: `super_arm_scores[id] = super_arm_scores[id] *
// super_arm_counts[id] + time_taken`, then `/= super_arm_counts[id]`,
// `best_super_arm = min(super_arm_scores, key=super_arm_scores.get)`).
// Called for every non-hypothetical round from round 1 onward, so the
// accumulated history spans the whole exploration phase, not just the
// rounds after StopExplorationRound.
func (d *RoundDriver) recordSuperArmScore(chosen []string, batchTime float64) {
	key := choiceKey(chosen)
	count := d.superArmCount[key]
	if count == 0 {
		d.superArmScore[key] = batchTime
	} else {
		d.superArmScore[key] = (d.superArmScore[key]*float64(count) + batchTime) / float64(count+1)
	}
	d.superArmCount[key] = count + 1
	d.recomputeBestSuperArm()
}

func (d *RoundDriver) recomputeBestSuperArm() {
	found := false
	var bestKey string
	var bestScore float64
	for key, score := range d.superArmScore {
		if !found || score < bestScore {
			bestScore = score
			bestKey = key
			found = true
		}
	}
	if !found {
		d.bestSuperArm = nil
		return
	}
	if bestKey == "" {
		d.bestSuperArm = []string{}
	} else {
		d.bestSuperArm = strings.Split(bestKey, "\x1f")
	}
	d.logger.Debug("bandit: best-observed super-arm so far", zap.Strings("chosen", d.bestSuperArm), zap.Float64("mean_batch_time", bestScore))
}

func choiceKey(chosen []string) string {
	sorted := append([]string(nil), chosen...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

func diff(chosenLast map[string]struct{}, chosenNow []string) (toAdd, toDrop []string) {
	nowSet := toSet(chosenNow)
	for fp := range nowSet {
		if _, ok := chosenLast[fp]; !ok {
			toAdd = append(toAdd, fp)
		}
	}
	for fp := range chosenLast {
		if _, ok := nowSet[fp]; !ok {
			toDrop = append(toDrop, fp)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toDrop)
	return toAdd, toDrop
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sumCreation(costs map[string]float64) float64 {
	total := 0.0
	for _, c := range costs {
		total += c
	}
	return total
}

// Start begins a background loop consuming batches and emitting reports
// (ambient component lifecycle idiom, mirroring
// processors/costcontrol/processor.go's Start/shutdownCh/WaitGroup
// shape). RunRound can always be called directly without Start.
func (d *RoundDriver) Start(ctx context.Context, batches <-chan []QueryInput, reports chan<- RoundReport) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.shutdownCh:
				return
			case <-ctx.Done():
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				report, err := d.RunRound(ctx, batch)
				if err != nil {
					d.logger.Error("bandit: round failed", zap.Error(err))
					continue
				}
				select {
				case reports <- report:
				case <-d.shutdownCh:
					return
				}
			}
		}
	}()
}

// Shutdown stops the background loop and asks the port to drop every
// advisor-managed index (DropAllNonClustered), leaving the database clean
// (§4.6 "On the final round").
func (d *RoundDriver) Shutdown(ctx context.Context) error {
	close(d.shutdownCh)
	d.wg.Wait()
	return d.port.DropAllNonClustered(ctx)
}

// PortError wraps an underlying port error as a fatal, §7-categorized
// PortUnavailable error.
func PortError(err error) error {
	if err == nil {
		return nil
	}
	return &PortUnavailableError{Err: err}
}
