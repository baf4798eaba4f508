package store

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gitlab.com/pscanner/pscan"
)

// NATSPublisher publishes every appended finding as JSON on a NATS subject
type NATSPublisher struct {
	url     string
	subject string
	nc      *nats.Conn
	logger  zerolog.Logger
}

var _ pscan.AlertStorer = &NATSPublisher{}

// NewNATSPublisher for url and subject
func NewNATSPublisher(url, subject string) *NATSPublisher {
	return &NATSPublisher{
		url:     url,
		subject: subject,
		logger:  log.With().Str("component", "nats").Str("subject", subject).Logger(),
	}
}

// Init connects to the NATS server
func (p *NATSPublisher) Init() error {
	nc, err := nats.Connect(p.url,
		nats.Name("pscan"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "connecting to NATS at %s", p.url)
	}
	p.nc = nc
	p.logger.Info().Str("url", p.url).Msg("connected to NATS")
	return nil
}

// Append publishes the finding
func (p *NATSPublisher) Append(finding *pscan.Finding) error {
	msg, err := FindingMessage(p.subject, finding)
	if err != nil {
		return err
	}
	return p.nc.PublishMsg(msg)
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// FindingMessage builds the message published for a finding. Nats-Msg-Id is
// the finding's hash so JetStream streams drop re-published findings.
func FindingMessage(subject string, finding *pscan.Finding) (*nats.Msg, error) {
	data, err := json.Marshal(finding)
	if err != nil {
		return nil, errors.Wrap(err, "encoding finding")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, finding.Hash())
	msg.Header.Set("Pscan-Rule", strconv.Itoa(finding.RuleID))
	msg.Header.Set("Pscan-Severity", finding.Severity.String())
	msg.Header.Set("Pscan-Exchange", strconv.FormatUint(finding.ExchangeID, 10))
	return msg, nil
}
