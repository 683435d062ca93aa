package metrics

import (
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// RecordSource is the slice of the state store the collector reads.
type RecordSource interface {
	ListRecords(project string) ([]*types.DeploymentRecord, error)
}

// Collector periodically refreshes gauges from the state store
type Collector struct {
	records  RecordSource
	projects func() ([]string, error)
	stopCh   chan struct{}
}

// NewCollector creates a collector. projects enumerates the configured
// project names, typically config.Loader.Projects.
func NewCollector(records RecordSource, projects func() ([]string, error)) *Collector {
	return &Collector{
		records:  records,
		projects: projects,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	projects, err := c.projects()
	if err != nil {
		return
	}

	for _, project := range projects {
		records, err := c.records.ListRecords(project)
		if err != nil {
			continue
		}
		UnitsDeployed.WithLabelValues(project).Set(float64(len(records)))
	}
}
