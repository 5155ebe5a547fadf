package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/privacy"
)

// DefaultSendTimeout bounds one delivery to all services.
const DefaultSendTimeout = 10 * time.Second

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, title, message string) error
}

// ShoutrrrSender sends via nicholas-fedor/shoutrrr to every configured URL.
type ShoutrrrSender struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrSender validates urls and builds one router for all of them.
// Errors never contain the raw URLs.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{urls: slices.Clone(urls), sender: sender}, nil
}

// Send implements Sender. The router applies its own timeout.
func (s *ShoutrrrSender) Send(_ context.Context, title, message string) error {
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	for _, err := range s.sender.Send(message, &params) {
		if err != nil {
			return errors.New(privacy.WrapError(err)).
				Component("notification").
				Category(errors.CategoryNotification).
				Build()
		}
	}
	return nil
}
