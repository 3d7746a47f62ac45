package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/handiism/mediadl/internal/download"
)

// progressBar renders the manager totals as a byte progress bar and lets
// messages be printed above it.
type progressBar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newProgressBar() *progressBar {
	return &progressBar{
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		),
	}
}

// println prints line above the bar.
func (p *progressBar) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Clear()
	fmt.Println(line)
}

// follow polls the manager until ctx is done.
func (p *progressBar) follow(ctx context.Context, manager *download.Manager) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			received, total, filesReceived, filesTotal := manager.GetProgress()
			p.mu.Lock()
			if total > 0 && p.bar.GetMax64() != total {
				p.bar.ChangeMax64(total)
			}
			p.bar.Describe(fmt.Sprintf("Downloading %d/%d files", filesReceived, filesTotal))
			p.bar.Set64(received)
			p.mu.Unlock()
		}
	}
}

// finish completes the bar.
func (p *progressBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Finish()
}
