package otp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"lottery_engine/internal/config"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/logbus"
)

var ErrTimeout = errors.New("otp: no passcode mail within poll budget")

type Message struct {
	Subject    string
	Body       string
	Recipients []string
	Date       time.Time
}

// Query matches messages containing any of Terms in subject or body.
type Query struct {
	Terms []string
	Limit int
}

type Mailbox interface {
	Search(ctx context.Context, q Query) ([]Message, error)
}

// Ordered: labelled codes first, bare six digits last.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`【パスコード】\s*(\d{6})`),
	regexp.MustCompile(`パスコード[：:]\s*(\d{6})`),
	regexp.MustCompile(`認証コード[：:]\s*(\d{6})`),
	regexp.MustCompile(`コード[：:]\s*(\d{6})`),
	regexp.MustCompile(`(?:^|\D)(\d{6})(?:\D|$)`),
}

// ExtractCode returns the first code found by the ordered pattern list.
func ExtractCode(body string) (string, bool) {
	for _, re := range codePatterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// MatchesRecipient reports whether target is among recipients. Each entry may
// itself be an address list with display names; addresses compare exactly,
// ignoring case.
func MatchesRecipient(recipients []string, target string) bool {
	want := addressOf(target)
	if want == "" {
		return false
	}
	for _, entry := range recipients {
		for _, addr := range addressList(entry) {
			if strings.EqualFold(addr, want) {
				return true
			}
		}
	}
	return false
}

func addressList(entry string) []string {
	if list, err := mail.ParseAddressList(entry); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}
	var out []string
	for _, raw := range strings.Split(entry, ",") {
		if a := addressOf(raw); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// addressOf returns the bare address of raw, or raw trimmed when it does not parse.
func addressOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if a, err := mail.ParseAddress(raw); err == nil {
		return a.Address
	}
	return raw
}

type Options struct {
	Query               string
	FallbackQueries     []string
	FallbackFromAttempt int
	Limit               int
	PollAttempts        int
	PollInterval        time.Duration
}

func OptionsFrom(cfg config.MailConfig) Options {
	return Options{
		Query:               cfg.Query,
		FallbackQueries:     cfg.FallbackQueries,
		FallbackFromAttempt: cfg.FallbackFromAttempt,
		Limit:               cfg.Limit,
		PollAttempts:        cfg.PollAttempts,
		PollInterval:        cfg.PollInterval(),
	}
}

type Retriever struct {
	mailbox Mailbox
	opts    Options
	bus     *logbus.Bus
}

func NewRetriever(mailbox Mailbox, opts Options, bus *logbus.Bus) *Retriever {
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 12
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 7 * time.Second
	}
	return &Retriever{mailbox: mailbox, opts: opts, bus: bus}
}

// Fetch polls the mailbox for a passcode mail addressed to recipient.
func (r *Retriever) Fetch(tok interrupt.Token, recipient string) (string, error) {
	for attempt := 0; attempt < r.opts.PollAttempts; attempt++ {
		if err := tok.Err(); err != nil {
			return "", err
		}
		code, err := r.lookup(tok.Context(), recipient, Query{Terms: []string{r.opts.Query}, Limit: r.opts.Limit})
		if err != nil {
			r.bus.Log("warn", "mailbox search failed", map[string]any{"attempt": attempt + 1, "error": err.Error()})
		}
		if code == "" && len(r.opts.FallbackQueries) > 0 && r.opts.FallbackFromAttempt > 0 && attempt >= r.opts.FallbackFromAttempt {
			code, err = r.lookup(tok.Context(), recipient, Query{Terms: r.opts.FallbackQueries, Limit: r.opts.Limit})
			if err != nil {
				r.bus.Log("warn", "mailbox fallback search failed", map[string]any{"attempt": attempt + 1, "error": err.Error()})
			}
		}
		if code != "" {
			r.bus.Log("info", "passcode received", map[string]any{"attempt": attempt + 1, "recipient": recipient})
			return code, nil
		}
		r.bus.Log("debug", "passcode not yet received", map[string]any{
			"attempt": attempt + 1,
			"max":     r.opts.PollAttempts,
		})
		if err := tok.Sleep(r.opts.PollInterval); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w (%d polls)", ErrTimeout, r.opts.PollAttempts)
}

func (r *Retriever) lookup(ctx context.Context, recipient string, q Query) (string, error) {
	msgs, err := r.mailbox.Search(ctx, q)
	if err != nil {
		return "", err
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date.After(msgs[j].Date) })
	for _, m := range msgs {
		if !MatchesRecipient(m.Recipients, recipient) {
			continue
		}
		if code, ok := ExtractCode(m.Body); ok {
			return code, nil
		}
	}
	return "", nil
}
