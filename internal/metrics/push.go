package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Push sends the collector's current values to a Pushgateway under job.
// grouping adds label pairs to the push path.
func (c *Collector) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(c.gatherer)
	for name, value := range grouping {
		p = p.Grouping(name, value)
	}
	if err := p.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	c.logger.Debug("pushed metrics", zap.String("url", url), zap.String("job", job))
	return nil
}
