package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanRunCapabilityGating(t *testing.T) {
	node := &WorkerNode{
		Capabilities: []string{"linux", "docker"},
		Resources:    NodeResources{MemoryGB: 16},
	}

	assert.True(t, node.CanRun(&BuildTask{Name: "plain"}))
	assert.True(t, node.CanRun(&BuildTask{Name: "containerized", RequiresCapabilities: []string{"linux", "docker"}}))
	assert.False(t, node.CanRun(&BuildTask{Name: "gpu", RequiresCapabilities: []string{"linux", "cuda"}}))
}

func TestCanRunMemoryGating(t *testing.T) {
	node := &WorkerNode{
		Resources:   NodeResources{MemoryGB: 16},
		CurrentLoad: NodeLoad{MemoryUsedGB: 12},
	}

	assert.True(t, node.CanRun(&BuildTask{Name: "small", MemoryRequiredGB: 4}))
	assert.False(t, node.CanRun(&BuildTask{Name: "big", MemoryRequiredGB: 4.5}))
	// Zero requirement never gates, even on a saturated node.
	node.CurrentLoad.MemoryUsedGB = 16
	assert.True(t, node.CanRun(&BuildTask{Name: "tiny"}))
}

func TestFreeMemoryGB(t *testing.T) {
	node := &WorkerNode{
		Resources:   NodeResources{MemoryGB: 32},
		CurrentLoad: NodeLoad{MemoryUsedGB: 10},
	}
	assert.InDelta(t, 22.0, node.FreeMemoryGB(), 0.001)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Equal(t, "BACKGROUND", PriorityBackground.String())
	assert.Equal(t, "UNKNOWN", TaskPriority(9).String())
}
