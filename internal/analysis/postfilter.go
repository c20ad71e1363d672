package analysis

import (
	"context"
	"strings"

	"github.com/mverteuil/birdcore/internal/birdnet"
	"github.com/mverteuil/birdcore/internal/detection"
)

func (p *Pipeline) runPostFilter(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.writes)

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-p.results:
			if !ok {
				return
			}
			p.filterOne(ctx, r)
		}
	}
}

// filterOne applies privacy truncation, confidence gating (dynamic
// threshold first, falling back to the configured baseline), and an
// optional region-plausibility check to one window's results, forwarding
// at most one Detection per surviving species to the writer.
func (p *Pipeline) filterOne(ctx context.Context, r inferenceResult) {
	if birdnet.HumanDetected(r.results, p.cfg.PrivacyThreshold) {
		log.Debug("human voice detected, discarding window", "window_start", r.window.start)
		return
	}

	week := birdnet.WeekOf(r.window.start)

	for _, res := range r.results {
		if res.Confidence <= 0 {
			continue
		}

		speciesLower := strings.ToLower(res.ScientificName)
		threshold := p.thresholds.adjusted(speciesLower, float64(res.Confidence), p.cfg.BaseConfidenceThreshold, r.window.start)
		p.tel.RecordDynamicThreshold(res.ScientificName, threshold)
		if float64(res.Confidence) < threshold {
			continue
		}

		if p.region != nil && p.cfg.RegionFilterThreshold > 0 {
			included, err := p.region.Includes(p.cfg.Latitude, p.cfg.Longitude, week, res.ScientificName, r.window.start)
			if err != nil {
				log.Warn("region filter lookup failed, keeping detection", "species", res.ScientificName, "error", err)
			} else if !included {
				continue
			}
		}

		d, err := detection.New(r.window.start, res.ScientificName, res.CommonName, float64(res.Confidence), week)
		if err != nil {
			log.Warn("discarding invalid detection", "species", res.ScientificName, "error", err)
			continue
		}
		d.SpeciesConfidenceThreshold = threshold
		d.SensitivitySetting = p.cfg.SensitivitySetting
		d.Overlap = p.cfg.Overlap
		if p.cfg.Latitude != 0 || p.cfg.Longitude != 0 {
			d = d.WithLocation(p.cfg.Latitude, p.cfg.Longitude)
		}

		select {
		case p.writes <- writeJob{detection: d, samples: r.window.samples}:
		case <-ctx.Done():
			return
		}
	}
}
