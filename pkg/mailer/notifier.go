package mailer

import (
	"context"
	"fmt"
)

// Notifier composes the account lifecycle notifications on top of a Sender.
type Notifier interface {
	SendVerification(ctx context.Context, name, email, verifyURL string) error
	SendPasswordReset(ctx context.Context, name, email, resetURL string) error
	SendWelcome(ctx context.Context, name, email, loginURL string) error
	SendPasswordChanged(ctx context.Context, name, email string) error
}

type notifier struct {
	sender        Sender
	subjectPrefix string
}

// NewNotifier builds the default notifier. The prefix is prepended to every
// subject line.
func NewNotifier(sender Sender, subjectPrefix string) Notifier {
	return &notifier{sender: sender, subjectPrefix: subjectPrefix}
}

func (n *notifier) SendVerification(ctx context.Context, name, email, verifyURL string) error {
	return n.sender.Send(ctx, Message{
		To:         email,
		ToName:     name,
		Subject:    n.subjectPrefix + "Verify Your Email Address",
		Body:       fmt.Sprintf("Hi %s, please confirm your email address to activate your account.", displayName(name)),
		ActionURL:  verifyURL,
		ActionText: "Verify Email",
		FooterText: "If you did not create this account, you can ignore this email.",
	})
}

func (n *notifier) SendPasswordReset(ctx context.Context, name, email, resetURL string) error {
	return n.sender.Send(ctx, Message{
		To:         email,
		ToName:     name,
		Subject:    n.subjectPrefix + "Reset Your Password",
		Body:       fmt.Sprintf("Hi %s, a password reset was requested for your account. The link below is valid for 24 hours.", displayName(name)),
		ActionURL:  resetURL,
		ActionText: "Reset Password",
		FooterText: "If you did not request a reset, no action is needed.",
	})
}

func (n *notifier) SendWelcome(ctx context.Context, name, email, loginURL string) error {
	return n.sender.Send(ctx, Message{
		To:         email,
		ToName:     name,
		Subject:    n.subjectPrefix + "Welcome",
		Body:       fmt.Sprintf("Hi %s, your email is verified and your account is ready to use.", displayName(name)),
		ActionURL:  loginURL,
		ActionText: "Sign In",
	})
}

func (n *notifier) SendPasswordChanged(ctx context.Context, name, email string) error {
	return n.sender.Send(ctx, Message{
		To:      email,
		ToName:  name,
		Subject: n.subjectPrefix + "Your Password Was Changed",
		Body:    fmt.Sprintf("Hi %s, the password for your account was just changed. If this was not you, reset your password immediately.", displayName(name)),
	})
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
