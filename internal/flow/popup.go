package flow

import (
	"strings"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/interrupt"
)

// Recovery reports what CheckAndRecover did. Reloaded means the page state
// was reset and the caller must restart its loop.
type Recovery struct {
	Reloaded bool   `json:"reloaded"`
	Overlay  string `json:"overlay,omitempty"`
	Message  string `json:"message,omitempty"`
	Reloads  int    `json:"reloads"`
}

type PopupHandler struct {
	opts    Options
	reloads []Strategy[browser.Session]
}

func NewPopupHandler(opts Options) *PopupHandler {
	h := &PopupHandler{opts: opts}
	h.reloads = []Strategy[browser.Session]{
		h.softReload,
		h.renavigate,
		h.scriptReload(`() => { window.location.reload(true); return true }`),
		h.scriptReload(`() => { window.location = window.location; return true }`),
	}
	return h
}

// CheckAndRecover looks at each known overlay in order. A transient overlay
// is reloaded away; anything else is dismissed.
func (h *PopupHandler) CheckAndRecover(tok interrupt.Token, s browser.Session) (Recovery, error) {
	for _, id := range h.opts.Site.Overlays.IDs {
		if err := tok.Err(); err != nil {
			return Recovery{}, err
		}
		visible, msg := h.overlay(tok, s, id)
		if !visible {
			continue
		}
		if !h.reloadable(msg) {
			h.opts.Bus.Log("info", "dismissing overlay", map[string]any{"overlay": id, "message": msg})
			if err := h.dismiss(tok, s, id); err != nil {
				return Recovery{}, err
			}
			return Recovery{Overlay: id, Message: msg}, nil
		}
		return h.recover(tok, s, id, msg)
	}
	return Recovery{}, nil
}

func (h *PopupHandler) recover(tok interrupt.Token, s browser.Session, id, msg string) (Recovery, error) {
	limit := h.opts.Popup.MaxReloads
	if limit <= 0 {
		limit = 5
	}
	rec := Recovery{Overlay: id, Message: msg}
	reset := false
	h.opts.Bus.Log("warn", "transient overlay, reloading", map[string]any{"overlay": id, "message": msg})

	for rec.Reloads < limit {
		if err := tok.Err(); err != nil {
			return rec, err
		}
		rec.Reloads++

		used, err := RunCascade(tok, s, h.reloads)
		if err != nil {
			if interrupt.Is(err) {
				return rec, err
			}
			h.opts.Bus.Log("warn", "every reload method failed", map[string]any{"overlay": id, "attempt": rec.Reloads})
			if rec.Reloads >= limit {
				// An earlier cycle already reset the page.
				rec.Reloaded = reset
				return rec, h.dismiss(tok, s, id)
			}
			if err := wait(tok, h.opts.Auth.RetryGap); err != nil {
				return rec, err
			}
			continue
		}
		reset = true
		h.opts.Bus.Log("debug", "page reloaded", map[string]any{"overlay": id, "attempt": rec.Reloads, "method": used + 1})

		if err := wait(tok, h.opts.Popup.Stabilize); err != nil {
			return rec, err
		}
		visible, again := h.overlay(tok, s, id)
		if !visible || !h.reloadable(again) {
			h.opts.Bus.Log("info", "overlay cleared after reload", map[string]any{"overlay": id, "reloads": rec.Reloads})
			if visible {
				if err := h.dismiss(tok, s, id); err != nil {
					return rec, err
				}
			} else if err := h.closeIfVisible(tok, s, id); err != nil {
				return rec, err
			}
			rec.Reloaded = true
			return rec, nil
		}
	}

	h.opts.Bus.Log("warn", "overlay persists after reloads, dismissing", map[string]any{"overlay": id, "reloads": rec.Reloads})
	if err := h.dismiss(tok, s, id); err != nil {
		return rec, err
	}
	rec.Reloaded = true
	return rec, nil
}

// overlay reports whether overlay id is displayed and its trimmed message.
func (h *PopupHandler) overlay(tok interrupt.Token, s browser.Session, id string) (bool, string) {
	o := h.opts.Site.Overlays
	if _, err := browser.FirstVisible(tok.Context(), s, o.RootOf(id)); err != nil {
		return false, ""
	}
	el, err := browser.First(tok.Context(), s, o.MessageOf(id))
	if err != nil {
		return true, ""
	}
	return true, browser.TrimmedText(el)
}

func (h *PopupHandler) reloadable(msg string) bool {
	if msg == "" {
		return false
	}
	o := h.opts.Site.Overlays
	for _, t := range append([]string{o.ExceptionText, o.TimeoutText}, o.ReloadTexts...) {
		if t = strings.TrimSpace(t); t != "" && strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

// dismiss clicks the overlay's close control. A missing control is not an error.
func (h *PopupHandler) dismiss(tok interrupt.Token, s browser.Session, id string) error {
	if err := tok.Err(); err != nil {
		return err
	}
	el, err := browser.First(tok.Context(), s, h.opts.Site.Overlays.CloseOf(id))
	if err != nil {
		h.opts.Bus.Log("debug", "overlay close control not found", map[string]any{"overlay": id})
		return nil
	}
	if err := el.Click(); err != nil {
		h.opts.Bus.Log("debug", "overlay close click failed", map[string]any{"overlay": id, "error": err.Error()})
	}
	return wait(tok, h.opts.Popup.AfterClose)
}

func (h *PopupHandler) closeIfVisible(tok interrupt.Token, s browser.Session, id string) error {
	el, err := browser.FirstVisible(tok.Context(), s, h.opts.Site.Overlays.CloseOf(id))
	if err != nil {
		return tok.Err()
	}
	_ = el.Click()
	return wait(tok, h.opts.Popup.AfterClose)
}

func (h *PopupHandler) settle(tok interrupt.Token) bool {
	return wait(tok, h.opts.Popup.ReloadSettle) == nil
}

func (h *PopupHandler) softReload(tok interrupt.Token, s browser.Session) bool {
	if err := s.Reload(tok.Context()); err != nil {
		return false
	}
	return h.settle(tok)
}

func (h *PopupHandler) renavigate(tok interrupt.Token, s browser.Session) bool {
	url := currentURL(tok, s)
	if url == "" {
		url = h.opts.Site.ApplyURL
	}
	if err := s.Navigate(tok.Context(), url); err != nil {
		return false
	}
	return h.settle(tok)
}

func (h *PopupHandler) scriptReload(js string) Strategy[browser.Session] {
	return func(tok interrupt.Token, s browser.Session) bool {
		if _, err := s.RunScript(tok.Context(), js); err != nil {
			return false
		}
		return h.settle(tok)
	}
}
