package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"

	"github.com/miekg/dns"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// subjects maps notification kinds to mail subjects.
var subjects = map[interfaces.NotificationKind]string{
	interfaces.NotifyGuardianInvited:   "You have been invited as a recovery guardian",
	interfaces.NotifyGuardianAccepted:  "A guardian accepted their invitation",
	interfaces.NotifyGuardianRevoked:   "A guardian was removed from your recovery setup",
	interfaces.NotifyRecoveryInitiated: "A recovery of your protected secret was initiated",
	interfaces.NotifyApprovalRecorded:  "A guardian approved a recovery request",
	interfaces.NotifyRecoveryDisputed:  "A recovery request was disputed by the owner",
	interfaces.NotifyRecoveryCompleted: "A recovery request was completed",
	interfaces.NotifyRecoveryExpired:   "A recovery request expired",
	interfaces.NotifyCheckInReminder:   "Reminder: check in to keep your recovery setup dormant",
}

// EmailConfig configures the EmailNotifier.
type EmailConfig struct {
	// RelayAddr is the SMTP relay in host:port form.
	RelayAddr string

	// From is the sender address.
	From string

	// Auth is the optional SMTP authentication for the relay.
	Auth smtp.Auth

	// ResolverAddr is the DNS resolver in host:port form used for the MX
	// preflight. Defaults to the system resolver from /etc/resolv.conf.
	ResolverAddr string

	// Log receives delivery outcomes.
	Log *slog.Logger
}

// EmailNotifier delivers notifications by mail through an SMTP relay. Before
// handing a message to the relay it resolves the recipient domain's MX
// records, so typoed guardian addresses fail fast at invitation time instead
// of bouncing silently days later.
type EmailNotifier struct {
	relayAddr    string
	from         string
	auth         smtp.Auth
	resolverAddr string
	log          *slog.Logger
}

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(cfg *EmailConfig) (*EmailNotifier, error) {
	if cfg.RelayAddr == "" {
		return nil, fmt.Errorf("email notifier requires a relay address")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email notifier requires a sender address")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	resolverAddr := cfg.ResolverAddr
	if resolverAddr == "" {
		config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("failed to load system resolver: %w", err)
		}
		resolverAddr = net.JoinHostPort(config.Servers[0], config.Port)
	}

	return &EmailNotifier{
		relayAddr:    cfg.RelayAddr,
		from:         cfg.From,
		auth:         cfg.Auth,
		resolverAddr: resolverAddr,
		log:          log,
	}, nil
}

// Notify sends the notification by mail. Errors are returned for logging
// only; callers never propagate them into state transitions.
func (n *EmailNotifier) Notify(ctx context.Context, identity string, kind interfaces.NotificationKind, message string) error {
	if err := n.checkMX(ctx, identity); err != nil {
		n.log.Warn("notification MX preflight failed",
			slog.String("identity", identity),
			slog.String("kind", string(kind)),
			"err", err)
		return err
	}

	subject, ok := subjects[kind]
	if !ok {
		subject = string(kind)
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.from, identity, subject, message)

	if err := smtp.SendMail(n.relayAddr, n.auth, n.from, []string{identity}, []byte(body)); err != nil {
		n.log.Warn("notification delivery failed",
			slog.String("identity", identity),
			slog.String("kind", string(kind)),
			"err", err)
		return fmt.Errorf("failed to send mail: %w", err)
	}

	n.log.Debug("notification delivered",
		slog.String("identity", identity),
		slog.String("kind", string(kind)))
	return nil
}

// checkMX verifies the recipient domain publishes at least one MX record.
func (n *EmailNotifier) checkMX(ctx context.Context, identity string) error {
	_, domain, found := strings.Cut(identity, "@")
	if !found || domain == "" {
		return fmt.Errorf("identity %q is not a mail address", identity)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)

	client := new(dns.Client)
	reply, _, err := client.ExchangeContext(ctx, m, n.resolverAddr)
	if err != nil {
		return fmt.Errorf("MX lookup for %s failed: %w", domain, err)
	}

	for _, answer := range reply.Answer {
		if _, ok := answer.(*dns.MX); ok {
			return nil
		}
	}

	return fmt.Errorf("domain %s publishes no MX records", domain)
}
