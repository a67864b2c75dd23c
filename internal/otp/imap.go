package otp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"lottery_engine/internal/config"
)

// IMAPMailbox searches a mailbox over IMAPS. Each search uses its own
// connection; passcode polling is slow enough that pooling buys nothing.
type IMAPMailbox struct {
	addr     string
	username string
	password string
	mailbox  string
	timeout  time.Duration
	lookback time.Duration
}

func NewIMAPMailbox(cfg config.MailConfig) *IMAPMailbox {
	return &IMAPMailbox{
		addr:     cfg.Addr,
		username: cfg.Username,
		password: cfg.Password,
		mailbox:  cfg.Mailbox,
		timeout:  cfg.Timeout(),
		lookback: 24 * time.Hour,
	}
}

func (m *IMAPMailbox) Search(ctx context.Context, q Query) ([]Message, error) {
	if m.username == "" || m.password == "" {
		return nil, errors.New("mail.username and mail.password are required")
	}
	if len(q.Terms) == 0 {
		return nil, nil
	}

	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: m.timeout}, m.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	c.Timeout = m.timeout
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer c.Logout()

	if err := c.Login(m.username, m.password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.mailbox, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", m.mailbox, err)
	}

	uids, err := c.UidSearch(buildCriteria(q.Terms, time.Now().Add(-m.lookback)))
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if q.Limit > 0 && len(uids) > q.Limit {
		uids = uids[:q.Limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	out := make([]Message, 0, len(uids))
	for msg := range ch {
		out = append(out, toMessage(msg, section))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

// buildCriteria ORs the terms; words inside one term are ANDed.
func buildCriteria(terms []string, since time.Time) *imap.SearchCriteria {
	var parts []*imap.SearchCriteria
	for _, term := range terms {
		words := strings.Fields(term)
		if len(words) == 0 {
			continue
		}
		c := imap.NewSearchCriteria()
		c.Text = words
		parts = append(parts, c)
	}

	root := imap.NewSearchCriteria()
	root.Since = since
	switch len(parts) {
	case 0:
	case 1:
		root.Text = parts[0].Text
	default:
		or := parts[len(parts)-1]
		for i := len(parts) - 2; i >= 0; i-- {
			node := imap.NewSearchCriteria()
			node.Or = [][2]*imap.SearchCriteria{{parts[i], or}}
			or = node
		}
		root.Or = or.Or
	}
	return root
}

func toMessage(msg *imap.Message, section *imap.BodySectionName) Message {
	out := Message{Date: msg.InternalDate}
	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		if !env.Date.IsZero() {
			out.Date = env.Date
		}
		for _, a := range env.To {
			if a == nil {
				continue
			}
			out.Recipients = append(out.Recipients, a.MailboxName+"@"+a.HostName)
		}
	}
	if r := msg.GetBody(section); r != nil {
		out.Body = readBody(r)
	}
	return out
}

func readBody(r io.Reader) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		b, _ := io.ReadAll(r)
		return string(b)
	}
	var plain, html strings.Builder
	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(ct, "text/html"):
			html.WriteString(htmlText(string(b)))
		default:
			plain.Write(b)
		}
	}
	if plain.Len() > 0 {
		return plain.String()
	}
	return html.String()
}

// blockTags end a run of text, so adjacent cells do not fuse into one number.
const blockTags = "br,p,div,td,th,tr,li,table,h1,h2,h3,h4"

// htmlText flattens an HTML body to whitespace-normalized text with
// entities decoded.
func htmlText(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	doc.Find("script,style,head").Remove()
	var b strings.Builder
	writeText(&b, doc.Selection)
	return strings.Join(strings.FieldsFunc(b.String(), unicode.IsSpace), " ")
}

func writeText(b *strings.Builder, sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
			return
		}
		writeText(b, c)
		if c.Is(blockTags) {
			b.WriteByte(' ')
		}
	})
}
