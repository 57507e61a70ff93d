package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"rsgnet/internal/train"
)

// progressPrinter rewrites one status line per step on a terminal and prints
// one line per finished epoch otherwise.
type progressPrinter struct {
	out      io.Writer
	terminal bool
	dirty    bool
}

func newProgressPrinter(f *os.File) *progressPrinter {
	fd := f.Fd()
	return &progressPrinter{
		out:      f,
		terminal: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

func (p *progressPrinter) Report(r train.Report) {
	if p.terminal {
		fmt.Fprintf(p.out, "\repoch=%d batch=%d/%d step=%s loss=%.6f lr=%g   ",
			r.Epoch+1, r.Batch+1, r.Batches, humanize.Comma(int64(r.Step)), r.TrainLoss, r.LR)
		p.dirty = true
		return
	}
	if r.Batch+1 == r.Batches {
		fmt.Fprintf(p.out, "epoch=%d steps=%s last_batch_loss=%.6f lr=%g\n",
			r.Epoch+1, humanize.Comma(int64(r.Step)), r.TrainLoss, r.LR)
	}
}

// Done ends an in-place status line.
func (p *progressPrinter) Done() {
	if p.dirty {
		fmt.Fprintln(p.out)
		p.dirty = false
	}
}
