package ingest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

// FetcherStrategy is the contract for a source connector. It fetches the
// source through f and returns RawRecords; it never normalizes or saves.
type FetcherStrategy interface {
	Collect(ctx context.Context, config SourceConfig, f Fetcher, logger *zap.Logger) ([]models.RawRecord, error)
}

// StrategyFactory maps strategy IDs (from sources.yaml) to implementations.
type StrategyFactory struct {
	mu         sync.RWMutex
	strategies map[string]FetcherStrategy
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{
		strategies: make(map[string]FetcherStrategy),
	}
}

func (f *StrategyFactory) Register(id string, strategy FetcherStrategy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[id] = strategy
}

func (f *StrategyFactory) Get(id string) (FetcherStrategy, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", id)
	}
	return strategy, nil
}

// GlobalStrategyFactory holds the built-in connectors.
var GlobalStrategyFactory = NewStrategyFactory()

func init() {
	GlobalStrategyFactory.Register("html_listing", &HTMLListingStrategy{})
	GlobalStrategyFactory.Register("opendatasoft", &OpenDataSoftStrategy{})
	GlobalStrategyFactory.Register("link_heuristic", &LinkHeuristicStrategy{})
	GlobalStrategyFactory.Register("wordpress_rest", &WordPressStrategy{})
}
