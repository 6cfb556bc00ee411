package main

import (
	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/driver"
)

// watch renders session events on the console until the returned stop
// function is called. stop drains what is already buffered. Without
// --verbose only model replies and the finish event are delivered.
func (a *app) watch() (stop func()) {
	var kinds []driver.EventKind
	if !a.verbose {
		kinds = []driver.EventKind{driver.EventModelReplied, driver.EventFinished}
	}

	bus := a.engine.Events()
	sub := bus.Subscribe(256, kinds...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.C {
			a.render(e)
		}
	}()

	return func() {
		bus.Unsubscribe(sub)
		<-done
		if n := sub.Dropped(); n > 0 {
			a.logger.Warn("console fell behind; events not shown", "dropped", n)
		}
	}
}

func (a *app) render(e driver.Event) {
	switch e.Kind {
	case driver.EventModelReplied:
		a.console.Line("Assistant: %s", e.Text)
	case driver.EventToolCalled:
		a.console.Line("  -> %s", e.Tool)
	case driver.EventToolReturned:
		a.console.Line("  <- %s: %s", e.Tool, e.Text)
	case driver.EventCorrected:
		a.console.Line("  User: %s", e.Text)
	case driver.EventFinished:
		a.logger.Debug("session finished", "session", e.SessionID, "turns", e.Turn)
	}
}

// report renders the outcome and returns an error for sessions that did not
// answer.
func (a *app) report(title string, out driver.Outcome) error {
	if usage := a.engine.Usage(); usage != "" {
		a.console.Line("%s", usage)
	}

	switch out.Status {
	case driver.Answered:
		a.console.Panel(title+" completed!", "FINAL_ANSWER: ["+out.Answer+"]", console.Success)
		return nil
	case driver.GaveUp:
		body := "FINAL_ANSWER: [" + out.Answer + "]"
		if out.Err != nil {
			body += "\n" + out.Err.Error()
		}
		a.console.Panel(title+" gave up", body, console.Warning)
		return nil
	default:
		msg := out.Status.String()
		if out.Err != nil {
			msg = out.Err.Error()
		}
		a.console.Panel(title+" ended without an answer", msg, console.Failure)
		return &sessionError{out: out}
	}
}

// sessionError reports a session that ended in NoAnswer or Failed.
type sessionError struct {
	out driver.Outcome
}

func (e *sessionError) Error() string {
	if e.out.Err != nil {
		return "session " + e.out.Status.String() + ": " + e.out.Err.Error()
	}
	return "session " + e.out.Status.String()
}

func (e *sessionError) Unwrap() error { return e.out.Err }
