package health

import (
	"fmt"
	"sync"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/discovery"
)

// Strategy runs the per-agent check across a cycle's agent list.
type Strategy interface {
	Name() string
	Run(agents []discovery.AgentInfo, check func(discovery.AgentInfo) Result) []Result
}

// NewStrategy returns the named strategy.
func NewStrategy(name string, maxConcurrent int) (Strategy, error) {
	switch name {
	case "polling":
		return pollingStrategy{}, nil
	case "concurrent":
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}
		return concurrentStrategy{limit: maxConcurrent}, nil
	default:
		return nil, fmt.Errorf("unknown monitor strategy %q", name)
	}
}

// pollingStrategy checks agents one at a time in discovery order.
type pollingStrategy struct{}

func (pollingStrategy) Name() string { return "polling" }

func (pollingStrategy) Run(agents []discovery.AgentInfo, check func(discovery.AgentInfo) Result) []Result {
	results := make([]Result, 0, len(agents))
	for _, agent := range agents {
		results = append(results, check(agent))
	}
	return results
}

// concurrentStrategy checks agents in parallel under a semaphore. Results
// keep discovery order regardless of completion order.
type concurrentStrategy struct {
	limit int
}

func (concurrentStrategy) Name() string { return "concurrent" }

func (s concurrentStrategy) Run(agents []discovery.AgentInfo, check func(discovery.AgentInfo) Result) []Result {
	results := make([]Result, len(agents))
	sem := make(chan struct{}, s.limit)
	var wg sync.WaitGroup

	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agent discovery.AgentInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = check(agent)
		}(i, agent)
	}
	wg.Wait()
	return results
}
