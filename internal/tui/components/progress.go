package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

var (
	countStyle  = lipgloss.NewStyle().Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Progress is the queue drain bar. Failed and cancelled jobs count as
// finished; the failed share is called out next to the bar.
type Progress struct {
	bar   progress.Model
	total int
}

func NewProgress(total int) Progress {
	bar := progress.New(progress.WithScaledGradient("#5A56E0", "#3FD17A"))
	bar.Width = 30
	bar.ShowPercentage = false
	return Progress{bar: bar, total: total}
}

func (p Progress) View(finished, failed int) string {
	ratio := 0.0
	if p.total > 0 {
		ratio = math.Min(1.0, float64(finished)/float64(p.total))
	}
	parts := []string{
		countStyle.Render(fmt.Sprintf("%d/%d", finished, p.total)),
		" ",
		p.bar.ViewAs(ratio),
		fmt.Sprintf(" %3.0f%%", ratio*100),
	}
	if failed > 0 {
		parts = append(parts, failedStyle.Render(fmt.Sprintf("  %d failed", failed)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}
