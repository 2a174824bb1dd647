// Package console renders deployment progress for humans.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/cosmo-local-credit/counterdeploy/publish/batch"
	"github.com/cosmo-local-credit/counterdeploy/publish/solc"
)

const bannerWidth = 40

// Reporter prints a run to w. It implements batch.Reporter.
type Reporter struct {
	w io.Writer

	title   *color.Color
	info    *color.Color
	label   *color.Color
	value   *color.Color
	success *color.Color
	failure *color.Color
	faint   *color.Color
}

// New returns a reporter writing to w. Colors follow fatih/color's terminal
// detection unless noColor forces them off.
func New(w io.Writer, noColor bool) *Reporter {
	r := &Reporter{
		w:       w,
		title:   color.New(color.FgCyan, color.Bold),
		info:    color.New(color.FgBlue, color.Bold),
		label:   color.New(color.FgCyan, color.Bold),
		value:   color.New(color.FgYellow),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
		faint:   color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{r.title, r.info, r.label, r.value, r.success, r.failure, r.faint} {
			c.DisableColor()
		}
	}
	return r
}

func (r *Reporter) Banner(name string) {
	border := strings.Repeat("═", bannerWidth)
	pad := bannerWidth - len(name)
	if pad < 0 {
		pad = 0
	}
	left := pad / 2
	r.title.Fprintln(r.w, "╔"+border+"╗")
	r.title.Fprintln(r.w, "║"+strings.Repeat(" ", left)+name+strings.Repeat(" ", pad-left)+"║")
	r.title.Fprintln(r.w, "╚"+border+"╝")
}

func (r *Reporter) Error(err error) {
	r.failure.Fprintf(r.w, "❌ %v\n", err)
}

func (r *Reporter) Compiled(run batch.Summary, artifact solc.Artifact) {
	r.info.Fprintf(r.w, "\n🚀 Deploying %d contracts...\n\n", run.Requested)
	r.success.Fprintf(r.w, "✅ Contract %s compiled successfully! (%d bytes)\n", artifact.ContractName, len(artifact.Bytecode))
	for _, w := range artifact.Warnings {
		r.faint.Fprintln(r.w, strings.TrimSpace(w))
	}
}

func (r *Reporter) AttemptStarted(index, total int) {
	fmt.Fprintf(r.w, "⏳ Deploying contract %d/%d...\n", index+1, total)
}

func (r *Reporter) AttemptFinished(a batch.Attempt) {
	n := a.Index + 1
	if a.Status != batch.StatusSucceeded {
		r.failure.Fprintf(r.w, "❌ Deployment %d failed!\n", n)
		r.failure.Fprintf(r.w, "   %s\n", a.Error)
		return
	}
	r.success.Fprintf(r.w, "✅ Contract %d deployed successfully!\n", n)
	r.label.Fprintf(r.w, "📌 Contract Address %d: ", n)
	r.value.Fprintln(r.w, a.Address.Hex())
	r.label.Fprintf(r.w, "📜 Transaction Hash %d: ", n)
	r.value.Fprintln(r.w, a.TxHash.Hex())
}

func (r *Reporter) Finished(s batch.Summary) {
	r.success.Fprintln(r.w, "\n✅ All deployments complete! 🎉")
	fmt.Fprintf(r.w, "   %d succeeded, %d failed, %d requested\n\n", s.Succeeded(), s.Failed(), s.Requested)
}
