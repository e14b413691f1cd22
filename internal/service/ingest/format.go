package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/model"
)

const DefaultTemplate = "[{sender}] {body}"

// Formatter renders the forwarded body. Placeholders: {sender} {body}
// {time} {slot}.
type Formatter struct {
	template string
	loc      *time.Location
}

func NewFormatter(template string, loc *time.Location) *Formatter {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{template: template, loc: loc}
}

func (f *Formatter) Format(m model.InboundMessage) string {
	slot := ""
	if m.SourceSlot != model.UnknownEndpoint {
		slot = "SIM" + strconv.Itoa(int(m.SourceSlot)+1)
	}
	r := strings.NewReplacer(
		"{sender}", m.Sender,
		"{body}", m.Body,
		"{time}", m.Timestamp.In(f.loc).Format("2006-01-02 15:04"),
		"{slot}", slot,
	)
	return r.Replace(f.template)
}
