package analysis

import (
	"context"

	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/events"
)

func (p *Pipeline) runWriter(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.writes:
			if !ok {
				return
			}
			p.writeOne(ctx, job)
		}
	}
}

// writeOne exports an audio clip (if configured), persists the detection,
// determines whether its species is being seen for the first time ever,
// and publishes a DetectionEvent so the event bus can fan it out to
// notification and analytics consumers.
func (p *Pipeline) writeOne(ctx context.Context, job writeJob) {
	d := job.detection

	if p.clip != nil {
		id, err := p.clip.write(ctx, window{samples: job.samples, start: d.Timestamp})
		if err != nil {
			log.Warn("audio clip export failed", "species", d.ScientificName, "error", err)
		} else {
			d.AudioFileID = &id
		}
	}

	isNewSpecies := p.isNewSpecies(ctx, d)

	if err := p.store.SaveDetection(ctx, d); err != nil {
		log.Error("saving detection failed", "species", d.ScientificName, "error", err)
		return
	}
	p.tel.RecordDetection(d.ScientificName)

	if p.bus != nil {
		if !p.bus.TryPublish(events.DetectionEvent{Detection: d, IsNewSpecies: isNewSpecies}) {
			p.tel.RecordEventDropped()
		}
	}
}

func (p *Pipeline) isNewSpecies(ctx context.Context, d detection.Detection) bool {
	_, found, err := p.store.FirstSeen(ctx, d.ScientificName)
	if err != nil {
		log.Warn("first-seen lookup failed", "species", d.ScientificName, "error", err)
		return false
	}
	return !found
}
