package main

import (
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// ingestProgress renders chunk progress on stderr. The bar is created on the
// first report, once the chunk total is known.
type ingestProgress struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	last int
}

func (p *ingestProgress) Report(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if total <= 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("indexing"),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = p.bar.Add(done - p.last)
	p.last = done
}

func (p *ingestProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
