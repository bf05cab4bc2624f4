package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"sprintbot/internal/transport"
	logx "sprintbot/pkg/logx"
)

type Config struct {
	Token string

	// PollTimeout bounds telebot's internal HTTP client; sends themselves are
	// additionally bounded by the caller's context.
	PollTimeout time.Duration
}

// Adapter is a send-only Telegram transport backed by telebot.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var sendOpts []interface{}
	if opt != nil {
		o := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview}
		if opt.ParseMode != "" {
			o.ParseMode = opt.ParseMode
		}
		sendOpts = append(sendOpts, o)
	}

	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := a.bot.Send(tele.ChatID(chatID), text, sendOpts...)
		ch <- result{msg: m, err: err}
	}()

	select {
	case <-ctx.Done():
		// The HTTP call keeps running in the background; telebot has no
		// per-call cancellation. A timed-out send is retryable.
		return transport.MessageRef{}, &transport.TransientError{Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return transport.MessageRef{}, classify(r.err)
		}
		ref := transport.MessageRef{ChatID: chatID}
		if r.msg != nil {
			ref.MessageID = r.msg.ID
		}
		return ref, nil
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Send-only adapter: nothing polls, nothing to drain.
	return nil
}

// classify maps telebot errors onto the transport retry taxonomy.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.TransientError{Err: err, RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel):
		return &transport.PermanentError{Err: err}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		// 4xx (other than flood control) will not improve on retry.
		if apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			return &transport.PermanentError{Err: err}
		}
	}

	return &transport.TransientError{Err: err}
}
