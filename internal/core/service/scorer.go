package service

import (
	"fmt"
	"sort"

	"github.com/buildnet/build-scheduler/internal/core/domain"
)

// Scoring starts from this baseline and applies independent additive and
// subtractive factors, each recorded in the reasons trail.
const scoreBaseline = 100.0

const (
	loadPenaltyWeight  = 30.0
	cpuFactorWeight    = 10.0
	memFactorWeight    = 5.0
	preferenceBonus    = 20.0
	queueDepthPenalty  = 5.0
	cacheLocalityBonus = 15.0
)

// calculateNodeScore ranks one node for one task. runningOnNode is the
// number of tasks the scheduler currently has assigned to the node. The
// caller is responsible for filtering to nodes that pass CanRun first.
func calculateNodeScore(node *domain.WorkerNode, task *domain.BuildTask, runningOnNode int) domain.NodeScore {
	score := scoreBaseline
	var reasons []string

	maxConcurrent := node.Constraints.MaxConcurrentBuilds
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	loadPenalty := float64(runningOnNode) / float64(maxConcurrent) * loadPenaltyWeight
	if loadPenalty > 0 {
		score -= loadPenalty
		reasons = append(reasons, fmt.Sprintf("load penalty: -%.1f (%d/%d builds)", loadPenalty, runningOnNode, maxConcurrent))
	}

	resourceBonus := (node.Normalization.CPUFactor-1)*cpuFactorWeight +
		(node.Normalization.MemoryFactor-1)*memFactorWeight
	if resourceBonus != 0 {
		score += resourceBonus
		reasons = append(reasons, fmt.Sprintf("resource bonus: %+.1f (cpu %.2fx, mem %.2fx)",
			resourceBonus, node.Normalization.CPUFactor, node.Normalization.MemoryFactor))
	}

	if node.PrefersTask(task.Name) {
		score += preferenceBonus
		reasons = append(reasons, fmt.Sprintf("preferred for %q: +%.0f", task.Name, preferenceBonus))
	}

	if runningOnNode > 0 {
		depthPenalty := queueDepthPenalty * float64(runningOnNode)
		score -= depthPenalty
		reasons = append(reasons, fmt.Sprintf("queue depth: -%.0f (%d running)", depthPenalty, runningOnNode))
	}

	if node.HasCachedDependencies {
		score += cacheLocalityBonus
		reasons = append(reasons, fmt.Sprintf("cached dependencies: +%.0f", cacheLocalityBonus))
	}

	return domain.NodeScore{Node: node, Score: score, Reasons: reasons}
}

// scoreNodes ranks the given nodes for a task, highest score first. Nodes
// failing the capability or memory prerequisites are excluded outright.
func scoreNodes(nodes []*domain.WorkerNode, task *domain.BuildTask, runningOnNode func(nodeID string) int) []domain.NodeScore {
	scores := make([]domain.NodeScore, 0, len(nodes))
	for _, node := range nodes {
		if !node.CanRun(task) {
			continue
		}
		scores = append(scores, calculateNodeScore(node, task, runningOnNode(node.ID)))
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	return scores
}
