// Package notify sends operator alerts through shoutrrr services.
package notify

import (
	"context"
	"io"
	"log"
	"net/url"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

const defaultTimeout = 10 * time.Second

// Notifier sends short alerts to the configured services.
type Notifier struct {
	urls    []string
	sender  *router.ServiceRouter
	timeout time.Duration
	log     logger.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithTimeout sets the per-send timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// WithLogger sets the notifier logger.
func WithLogger(l logger.Logger) Option {
	return func(n *Notifier) { n.log = l }
}

// New validates urls and builds the sender.
func New(urls []string, opts ...Option) (*Notifier, error) {
	n := &Notifier{
		urls:    slices.Clone(urls),
		timeout: defaultTimeout,
		log:     GetLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if len(n.urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(n.urls...)
	if err != nil {
		return nil, errors.New(errors.NewStd(scrub(err.Error(), n.urls))).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender.Timeout = n.timeout
	sender.SetLogger(log.New(io.Discard, "", 0))
	n.sender = sender
	return n, nil
}

// Send delivers message to every service. The returned error carries no
// service URLs, which may embed tokens.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	if n == nil || n.sender == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	var errs []error
	for _, e := range n.sender.Send(message, &params) {
		if e != nil {
			errs = append(errs, errors.NewStd(scrub(e.Error(), n.urls)))
		}
	}
	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("notify").
			Category(errors.CategoryNotification).
			Context("services", len(n.urls)).
			Build()
	}
	n.log.Debug("notification sent", logger.String("title", title))
	return nil
}

// CaptureFatal reports a capture loop that gave up on its source.
func (n *Notifier) CaptureFatal(cause error) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	msg := "Capture stopped: the frame source could not be reacquired."
	if cause != nil {
		msg += " Last error: " + cause.Error()
	}
	if err := n.Send(ctx, "Gordon capture stopped", msg); err != nil {
		n.log.Warn("failed to send capture alert", logger.Error(err))
	}
}

// scrub removes configured service URLs and their credentials from s.
func scrub(s string, urls []string) string {
	for _, raw := range urls {
		s = strings.ReplaceAll(s, raw, "[service]")
		if u, err := url.Parse(raw); err == nil && u.User != nil {
			if pass, ok := u.User.Password(); ok && pass != "" {
				s = strings.ReplaceAll(s, pass, "[redacted]")
			}
			if name := u.User.Username(); name != "" {
				s = strings.ReplaceAll(s, name, "[redacted]")
			}
		}
	}
	return s
}

// GetLogger returns the notify module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notify")
}
