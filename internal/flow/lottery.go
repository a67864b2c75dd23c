package flow

import (
	"fmt"
	"strings"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/model"
)

const (
	jsCheckAndDispatch = `() => { this.checked = true; this.dispatchEvent(new Event('change', {bubbles: true})); this.dispatchEvent(new Event('click', {bubbles: true})); return this.checked === true }`
	jsCheckAndClick    = `() => { this.checked = true; this.click(); this.dispatchEvent(new Event('change', {bubbles: true})); return this.checked === true }`
	jsIsChecked        = `() => this.checked === true`
)

type submission int

const (
	submitted submission = iota
	submitFailed
	reloadNeeded
)

// optionScope is where the radio strategies look for the item's option.
type optionScope struct {
	session browser.Session
	number  int
	option  browser.Element
}

type Orchestrator struct {
	opts   Options
	popup  *PopupHandler
	radios []Strategy[optionScope]
}

func NewOrchestrator(opts Options, popup *PopupHandler) *Orchestrator {
	if popup == nil {
		popup = NewPopupHandler(opts)
	}
	o := &Orchestrator{opts: opts, popup: popup}
	o.radios = []Strategy[optionScope]{
		o.checkAndDispatch,
		o.clickLabel,
		o.clickInput,
		o.clickSpan,
		o.firstRadioInForm,
	}
	return o
}

// Process runs passes over numbers until no targeted item is open or the pass
// cap is reached. It never returns an error; interruption shows up as an
// Interrupted result.
func (o *Orchestrator) Process(tok interrupt.Token, s browser.Session, numbers []int) model.SessionOutcome {
	numbers = model.NormalizeNumbers(numbers)
	results := NewResults()
	if len(numbers) == 0 {
		return model.SessionOutcome{Results: []model.LotteryResult{}, FinalStatus: model.FinalFailure, Message: messageNoItems}
	}
	done := model.CompletedSet{}

	concluded, cur, err := o.run(tok, s, numbers, results, done)
	if err != nil {
		if cur == 0 {
			cur = pending(numbers, done)
		}
		o.opts.Bus.Log("warn", "lottery processing interrupted", map[string]any{"number": cur, "error": err.Error()})
		results.Record(cur, model.ResultInterrupted, reasonInterrupted(cur))
		results.Fill(numbers, model.ResultInterrupted, reasonNotReached)
		return o.finish(results.Outcome())
	}

	results.Fill(numbers, model.ResultUnknown, reasonNotReached)
	out := results.Outcome()
	if !concluded && out.FinalStatus == model.FinalSuccess {
		out.FinalStatus = model.FinalFailure
		out.Message = messageStillOpen
	}
	return o.finish(out)
}

func (o *Orchestrator) finish(out model.SessionOutcome) model.SessionOutcome {
	o.opts.Bus.Log("info", "lottery batch finished", map[string]any{
		"finalStatus": string(out.FinalStatus),
		"message":     out.Message,
	})
	return out
}

// run reports whether the batch concluded before the pass cap. Its error is
// always an interruption; cur is the item in progress when it was observed.
func (o *Orchestrator) run(tok interrupt.Token, s browser.Session, numbers []int, results *Results, done model.CompletedSet) (bool, int, error) {
	limit := o.opts.Lottery.MaxPasses
	if limit <= 0 {
		limit = 10
	}
	for pass := 1; pass <= limit; pass++ {
		o.opts.Bus.Log("info", "lottery pass", map[string]any{"pass": pass, "max": limit, "completed": len(done)})

		reload, cur, err := o.pass(tok, s, numbers, results, done)
		if err != nil {
			return false, cur, err
		}
		if reload {
			o.opts.Bus.Log("warn", "page reloaded, restarting pass", map[string]any{"pass": pass, "number": cur})
			continue
		}

		open, cur, err := o.reverify(tok, s, numbers, results, done)
		if err != nil {
			return false, cur, err
		}
		if open > 0 {
			continue
		}
		if status, _ := Verdict(results.List()); status != model.FinalSuccess {
			return true, 0, nil
		}
		// One more look before reporting success.
		open, cur, err = o.reverify(tok, s, numbers, results, done)
		if err != nil {
			return false, cur, err
		}
		if open == 0 {
			return true, 0, nil
		}
	}
	o.opts.Bus.Log("warn", "lottery pass cap reached", map[string]any{"max": limit})
	return false, 0, nil
}

// pass walks the pending items once. It stops early when an overlay forced a reload.
func (o *Orchestrator) pass(tok interrupt.Token, s browser.Session, numbers []int, results *Results, done model.CompletedSet) (bool, int, error) {
	solved, err := o.opts.checkPageChallenge(tok, s, "apply page")
	if err != nil {
		return false, 0, err
	}
	if solved {
		if err := wait(tok, o.opts.Lottery.Step); err != nil {
			return false, 0, err
		}
	}
	if err := o.opts.ensureApplyPage(tok, s); err != nil {
		return false, 0, err
	}

	for _, n := range numbers {
		if done.Has(n) {
			continue
		}
		if err := tok.Err(); err != nil {
			return false, n, err
		}
		reload, err := o.item(tok, s, n, results, done)
		if err != nil {
			return false, n, err
		}
		if reload {
			return true, n, nil
		}
	}
	return false, 0, nil
}

func (o *Orchestrator) item(tok interrupt.Token, s browser.Session, n int, results *Results, done model.CompletedSet) (bool, error) {
	it, err := o.readStatus(tok, s, n)
	if err != nil {
		return false, err
	}
	o.opts.Bus.Log("info", "lottery status", map[string]any{"number": n, "status": string(it.Status), "label": it.Label})

	switch it.Status {
	case model.ItemNotExist:
		results.Record(n, model.ResultNotExist, reasonNotExist(n))
		return false, nil
	case model.ItemClosed:
		results.Record(n, model.ResultSkippedClosed, reasonClosed(n))
		return false, nil
	case model.ItemCompleted:
		done.Add(n)
		results.Record(n, model.ResultSkippedCompleted, reasonCompleted(n))
		return false, nil
	case model.ItemOpen:
	default:
		results.Record(n, model.ResultUnknown, reasonUnknown(n, it.Label))
		return false, nil
	}

	if err := wait(tok, o.opts.Lottery.Step); err != nil {
		return false, err
	}
	res, err := o.submit(tok, s, n)
	if interrupt.Is(err) {
		return false, err
	}
	switch res {
	case reloadNeeded:
		return true, nil
	case submitted:
		done.Add(n)
		results.Record(n, model.ResultSuccess, reasonSucceeded(n))
		o.opts.Bus.Log("info", "lottery entry submitted", map[string]any{"number": n})
	default:
		results.Record(n, model.ResultFailure, reasonFailed(n, err))
		o.opts.Bus.Log("warn", "lottery entry failed", map[string]any{"number": n, "error": errString(err)})
	}

	rec, err := o.popup.CheckAndRecover(tok, s)
	if err != nil {
		return false, err
	}
	if rec.Reloaded {
		return true, nil
	}
	if err := o.opts.ensureApplyPage(tok, s); err != nil {
		return false, err
	}
	return false, wait(tok, o.opts.Lottery.Step)
}

// readStatus reads item n's label from the apply page.
func (o *Orchestrator) readStatus(tok interrupt.Token, s browser.Session, n int) (model.LotteryItem, error) {
	it := model.LotteryItem{Number: n, Status: model.ItemNotExist}
	if err := o.opts.ensureApplyPage(tok, s); err != nil {
		return it, err
	}
	ctx := tok.Context()
	items := o.opts.Site.Items
	if _, err := browser.First(ctx, s, items.List); err != nil {
		return it, tok.Err()
	}
	el, err := browser.First(ctx, s, items.StatusOf(n))
	if err != nil {
		return it, tok.Err()
	}
	it.Label = browser.TrimmedText(el)
	it.Status = o.classifyLabel(it.Label)
	return it, tok.Err()
}

func (o *Orchestrator) classifyLabel(label string) model.ItemStatus {
	labels := o.opts.Site.Labels
	switch strings.TrimSpace(label) {
	case "":
		return model.ItemUnknown
	case labels.Open:
		return model.ItemOpen
	case labels.Closed:
		return model.ItemClosed
	case labels.Completed:
		return model.ItemCompleted
	default:
		return model.ItemUnknown
	}
}

// reverify re-reads every targeted item. Items still open leave the
// completed set, and a recorded success for them becomes a failure.
func (o *Orchestrator) reverify(tok interrupt.Token, s browser.Session, numbers []int, results *Results, done model.CompletedSet) (int, int, error) {
	open := 0
	for _, n := range numbers {
		if err := tok.Err(); err != nil {
			return open, n, err
		}
		it, err := o.readStatus(tok, s, n)
		if err != nil {
			return open, n, err
		}
		if it.Status != model.ItemOpen {
			continue
		}
		open++
		done.Remove(n)
		if results.Demote(n, reasonStillOpen(n)) {
			o.opts.Bus.Log("warn", "lottery still open on re-check", map[string]any{"number": n})
		}
	}
	return open, 0, nil
}

// submit runs the entry sub-flow for an open item.
func (o *Orchestrator) submit(tok interrupt.Token, s browser.Session, n int) (submission, error) {
	items := o.opts.Site.Items
	lc := o.opts.Lottery

	if _, err := o.opts.checkPageChallenge(tok, s, fmt.Sprintf("lottery %d", n)); err != nil {
		return submitFailed, err
	}
	if err := clickFirst(tok, s, items.ToggleOf(n)); err != nil {
		return submitFailed, err
	}
	if err := wait(tok, lc.Expand); err != nil {
		return submitFailed, err
	}

	option, err := browser.First(tok.Context(), s, items.OptionOf(n))
	if err != nil {
		if e := tok.Err(); e != nil {
			return submitFailed, e
		}
	}
	used, err := RunCascade(tok, optionScope{session: s, number: n, option: option}, o.radios)
	if err != nil {
		return submitFailed, err
	}
	o.opts.Bus.Log("debug", "option selected", map[string]any{"number": n, "strategy": used + 1})
	if err := wait(tok, lc.Step); err != nil {
		return submitFailed, err
	}

	if err := clickFirst(tok, s, items.ConsentOf(n)); err != nil {
		return submitFailed, err
	}
	if err := wait(tok, lc.Step); err != nil {
		return submitFailed, err
	}

	// The page session may have rotated while the form was filled in.
	if _, err := o.opts.checkPageChallenge(tok, s, fmt.Sprintf("lottery %d submit", n)); err != nil {
		return submitFailed, err
	}
	if err := clickFirst(tok, s, items.SubmitOf(n)); err != nil {
		return submitFailed, err
	}
	if err := o.confirm(tok, s); err != nil {
		return submitFailed, err
	}
	if err := wait(tok, lc.Confirm); err != nil {
		return submitFailed, err
	}

	rec, err := o.popup.CheckAndRecover(tok, s)
	if err != nil {
		return submitFailed, err
	}
	if rec.Reloaded {
		return reloadNeeded, nil
	}
	if err := o.opts.ensureApplyPage(tok, s); err != nil {
		return submitFailed, err
	}
	return submitted, nil
}

// confirm waits for the follow-up dialog and clicks its affirmative button.
func (o *Orchestrator) confirm(tok interrupt.Token, s browser.Session) error {
	items := o.opts.Site.Items
	pace := o.opts.Lottery.Dialog
	for i := 0; ; i++ {
		if err := tok.Err(); err != nil {
			return err
		}
		if _, err := browser.FirstVisible(tok.Context(), s, items.ConfirmDialog); err == nil {
			if btn, err := browser.FirstVisible(tok.Context(), s, items.ConfirmButton); err == nil {
				if err := btn.Click(); err != nil {
					return fmt.Errorf("click %s: %w", items.ConfirmButton, err)
				}
				return nil
			}
		}
		if i >= pace.Count {
			return fmt.Errorf("%s: %w", items.ConfirmButton, browser.ErrNoElement)
		}
		if err := tok.Sleep(pace.Quantum()); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) checkAndDispatch(tok interrupt.Token, sc optionScope) bool {
	input := findIn(sc.option, o.opts.Site.Items.OptionInput)
	if input == nil {
		return false
	}
	if _, err := input.Eval(jsCheckAndDispatch); err != nil {
		return false
	}
	if label := findIn(sc.option, o.opts.Site.Items.OptionLabel); label != nil {
		_ = label.Click()
	}
	return isChecked(input)
}

func (o *Orchestrator) clickLabel(tok interrupt.Token, sc optionScope) bool {
	return o.clickThenVerify(sc, o.opts.Site.Items.OptionLabel)
}

func (o *Orchestrator) clickInput(tok interrupt.Token, sc optionScope) bool {
	input := findIn(sc.option, o.opts.Site.Items.OptionInput)
	if input == nil {
		return false
	}
	if _, err := input.Eval(jsCheckAndClick); err != nil {
		return false
	}
	return isChecked(input)
}

func (o *Orchestrator) clickSpan(tok interrupt.Token, sc optionScope) bool {
	return o.clickThenVerify(sc, o.opts.Site.Items.OptionSpan)
}

func (o *Orchestrator) firstRadioInForm(tok interrupt.Token, sc optionScope) bool {
	form, err := browser.First(tok.Context(), sc.session, o.opts.Site.Items.FormOf(sc.number))
	if err != nil {
		return false
	}
	radio := findIn(form, o.opts.Site.Items.FormRadio)
	if radio == nil {
		return false
	}
	if _, err := radio.Eval(jsCheckAndClick); err != nil {
		return false
	}
	return isChecked(radio)
}

func (o *Orchestrator) clickThenVerify(sc optionScope, selector string) bool {
	el := findIn(sc.option, selector)
	if el == nil {
		return false
	}
	if err := el.Click(); err != nil {
		return false
	}
	input := findIn(sc.option, o.opts.Site.Items.OptionInput)
	return input != nil && isChecked(input)
}

func findIn(scope browser.Element, selector string) browser.Element {
	if scope == nil {
		return nil
	}
	els, err := scope.Find(selector)
	if err != nil || len(els) == 0 {
		return nil
	}
	return els[0]
}

func isChecked(el browser.Element) bool {
	v, err := el.Eval(jsIsChecked)
	if err != nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// pending is the first item not confirmed done, or the last item.
func pending(numbers []int, done model.CompletedSet) int {
	for _, n := range numbers {
		if !done.Has(n) {
			return n
		}
	}
	return numbers[len(numbers)-1]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
