package chat

import (
	"academy/academy/services/llm"
	"context"
	"errors"
	"fmt"

	"github.com/magiconair/properties"
)

type NoticeKind string

const (
	NoticeRateLimited      NoticeKind = "rate_limited"
	NoticeCreditsExhausted NoticeKind = "credits_exhausted"
	NoticeForbidden        NoticeKind = "forbidden"
	NoticeGeneric          NoticeKind = "generic"
)

// Notice is a user-visible message about a failed or interrupted send.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`
}

// Classify maps a transport error to a notice kind (and reason code for 403s).
func Classify(err error) (NoticeKind, string) {
	var fe *llm.ForbiddenError
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return NoticeRateLimited, ""
	case errors.Is(err, llm.ErrPaymentRequired):
		return NoticeCreditsExhausted, ""
	case errors.As(err, &fe):
		return NoticeForbidden, fe.Code
	}
	return NoticeGeneric, ""
}

const defaultBundle = `
notice.rate_limited = Too many requests right now. Please wait a moment and try again.
notice.credits_exhausted = Your AI credits are used up for this billing period.
notice.forbidden = You don't have access to this assistant.
notice.forbidden.AI_CREDITS_LIMIT_REACHED = Your organization reached its monthly AI credit limit.
notice.generic = Something went wrong. Please try again.
notice.apology = Sorry, I couldn't answer that just now.

notice.rate_limited.es = Demasiadas solicitudes. Espera un momento e inténtalo de nuevo.
notice.credits_exhausted.es = Se agotaron tus créditos de IA para este periodo.
notice.forbidden.es = No tienes acceso a este asistente.
notice.forbidden.AI_CREDITS_LIMIT_REACHED.es = Tu organización alcanzó su límite mensual de créditos de IA.
notice.generic.es = Algo salió mal. Inténtalo de nuevo.
notice.apology.es = Lo siento, no pude responder en este momento.
`

// Notices resolves localized notice texts from a .properties bundle.
// Lookup order: kind.code.locale, kind.code, kind.locale, kind.
type Notices struct {
	props  *properties.Properties
	Locale string
}

func DefaultNotices() *Notices {
	return &Notices{props: properties.MustLoadString(defaultBundle)}
}

// LoadNotices overlays a bundle file on the built-in texts.
func LoadNotices(path, locale string) (*Notices, error) {
	n := DefaultNotices()
	n.Locale = locale
	if path == "" {
		return n, nil
	}
	extra, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("load notices: %w", err)
	}
	n.props.Merge(extra)
	return n, nil
}

func (n *Notices) lookup(keys ...string) string {
	for _, k := range keys {
		if v, ok := n.props.Get(k); ok {
			return v
		}
	}
	return ""
}

func (n *Notices) Text(kind NoticeKind, code string) string {
	base := "notice." + string(kind)
	var keys []string
	if code != "" {
		if n.Locale != "" {
			keys = append(keys, base+"."+code+"."+n.Locale)
		}
		keys = append(keys, base+"."+code)
	}
	if n.Locale != "" {
		keys = append(keys, base+"."+n.Locale)
	}
	keys = append(keys, base)
	if s := n.lookup(keys...); s != "" {
		return s
	}
	return n.lookup("notice.generic")
}

func (n *Notices) Apology() string {
	if n.Locale != "" {
		if s := n.lookup("notice.apology." + n.Locale); s != "" {
			return s
		}
	}
	return n.lookup("notice.apology")
}

// NoticeFor builds the notice for err. Cancellation is not a failure and
// yields ok=false.
func (n *Notices) NoticeFor(err error) (Notice, bool) {
	if err == nil || errors.Is(err, context.Canceled) {
		return Notice{}, false
	}
	kind, code := Classify(err)
	return Notice{Kind: kind, Code: code, Message: n.Text(kind, code)}, true
}
