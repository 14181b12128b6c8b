package sandbox

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"simpleflow-sandbox/internal/monitor"
)

// Janitor periodically removes staged artifacts that outlived any possible
// run. Normal runs delete their own artifact; leftovers only appear after a
// crash or a failed removal.
type Janitor struct {
	dir     string
	maxAge  time.Duration
	metrics *monitor.Metrics
	cron    *cron.Cron
}

func NewJanitor(dir, schedule string, maxAge time.Duration, metrics *monitor.Metrics) (*Janitor, error) {
	j := &Janitor{
		dir:     dir,
		maxAge:  maxAge,
		metrics: metrics,
		cron:    cron.New(),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep(time.Now()) }); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() {
	log.Info().Str("dir", j.dir).Dur("max_age", j.maxAge).Msg("artifact janitor started")
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep removes artifacts last modified before now-maxAge and returns how
// many it deleted.
func (j *Janitor) Sweep(now time.Time) int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", j.dir).Msg("janitor: reading scratch dir")
		return 0
	}

	cutoff := now.Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !isArtifactName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("janitor: removing leaked artifact")
			continue
		}
		removed++
	}

	if removed > 0 {
		j.metrics.RecordLeakedArtifacts(removed)
		log.Warn().Int("count", removed).Msg("janitor removed leaked artifacts")
	}
	return removed
}
