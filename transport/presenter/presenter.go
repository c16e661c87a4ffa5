package presenter

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wricardo/verifygate/gate/config"
	"github.com/wricardo/verifygate/gate/service"
)

// Vars are the values substituted into message templates
type Vars struct {
	Player      string
	Code        string
	Timeout     time.Duration
	Remaining   int
	MaxAttempts int
}

// Expand replaces {player}, {code}, {timeout}, {attempts} and {max_attempts}
// in tmpl. {timeout} is rendered in whole seconds and {attempts} is the
// number of attempts left.
func Expand(tmpl string, v Vars) string {
	return strings.NewReplacer(
		"{player}", v.Player,
		"{code}", v.Code,
		"{timeout}", strconv.Itoa(int(v.Timeout/time.Second)),
		"{attempts}", strconv.Itoa(v.Remaining),
		"{max_attempts}", strconv.Itoa(v.MaxAttempts),
	).Replace(tmpl)
}

// Renderer turns notices and outcomes into user-facing lines using the
// configured templates. Templates can be swapped at runtime.
type Renderer struct {
	messages atomic.Pointer[config.Messages]
}

// New creates a renderer for msgs
func New(msgs config.Messages) *Renderer {
	r := &Renderer{}
	r.SetMessages(msgs)
	return r
}

// SetMessages replaces the templates
func (r *Renderer) SetMessages(msgs config.Messages) {
	r.messages.Store(&msgs)
}

// Notice renders a notice
func (r *Renderer) Notice(n service.Notice) []string {
	m := r.messages.Load()
	var tmpl []string
	switch n.Kind {
	case service.NoticeChallenge:
		tmpl = m.Join
	case service.NoticeSuccess:
		tmpl = m.Success
	case service.NoticeWrongCode:
		tmpl = m.WrongCode
	case service.NoticeFailed:
		tmpl = m.Failed
	case service.NoticeTimeout:
		tmpl = m.Timeout
	}
	return render(tmpl, Vars{
		Player:      n.UserID,
		Code:        n.Code,
		Timeout:     n.Timeout,
		Remaining:   n.Remaining,
		MaxAttempts: n.MaxAttempts,
	})
}

// Disconnect renders the text shown when a user is forcibly disconnected
func (r *Renderer) Disconnect(userID string, reason service.DisconnectReason) []string {
	m := r.messages.Load()
	var tmpl []string
	switch reason {
	case service.ReasonFailed:
		tmpl = m.Failed
	case service.ReasonTimedOut:
		tmpl = m.Timeout
	case service.ReasonRevoked:
		tmpl = m.Kicked
	}
	return render(tmpl, Vars{Player: userID})
}

// Outcome renders the reply for submissions that produced no notice. Outcomes
// that changed the session are announced through Notice and yield nil here.
func (r *Renderer) Outcome(userID string, o *service.Outcome) []string {
	m := r.messages.Load()
	switch o.Kind {
	case service.OutcomeNotFound:
		return render(m.NothingPending, Vars{Player: userID})
	case service.OutcomeAlreadyResolved:
		return render(m.AlreadyResolved, Vars{Player: userID})
	default:
		return nil
	}
}

// Command expands a deferred command for userID
func (r *Renderer) Command(userID, command string) string {
	return Expand(command, Vars{Player: userID})
}

func render(tmpl []string, v Vars) []string {
	if len(tmpl) == 0 {
		return nil
	}
	lines := make([]string, 0, len(tmpl))
	for _, line := range tmpl {
		lines = append(lines, Expand(line, v))
	}
	return lines
}
