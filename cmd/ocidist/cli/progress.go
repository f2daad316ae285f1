package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/meigma/ocidist"
)

// progressMode returns the configured progress mode: "auto", "tty", or "plain".
func progressMode() string {
	mode := viper.GetString("progress")
	switch mode {
	case "auto", "tty", "plain":
		return mode
	default:
		return "auto"
	}
}

// shouldShowProgress reports whether a progress bar should be rendered.
func shouldShowProgress() bool {
	switch progressMode() {
	case "plain":
		return false
	case "tty":
		return true
	default:
		return term.IsTerminal(int(os.Stderr.Fd()))
	}
}

// charmProgress wraps the charmbracelet progress bar for byte-based operations.
type charmProgress struct {
	bar         progress.Model
	description string
	total       int64
}

func newCharmProgress(total int64, description string) *charmProgress {
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	return &charmProgress{bar: bar, description: description, total: total}
}

func (p *charmProgress) render(transferred int64) {
	var percent float64
	if p.total > 0 {
		percent = float64(transferred) / float64(p.total)
	}

	fmt.Fprintf(os.Stderr, "\r\033[K%s %s %s/%s",
		p.description,
		p.bar.ViewAs(percent),
		humanize.IBytes(uint64(transferred)),
		humanize.IBytes(uint64(p.total)),
	)
}

func (p *charmProgress) finish() {
	fmt.Fprintln(os.Stderr)
}

// newProgressCallback builds an ocidist.ProgressCallback that renders a
// progress bar to stderr, and a finish func to call once the operation
// completes. It returns a nil callback when progress display is disabled.
func newProgressCallback(description string) (callback ocidist.ProgressCallback, finish func()) {
	if !shouldShowProgress() {
		return nil, func() {}
	}

	var bar *charmProgress
	var once sync.Once

	callback = func(event ocidist.ProgressEvent) {
		once.Do(func() {
			bar = newCharmProgress(event.TotalBytes, description)
		})
		bar.render(event.BytesTransferred)
	}
	finish = func() {
		if bar != nil {
			bar.finish()
		}
	}
	return callback, finish
}
