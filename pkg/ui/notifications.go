package ui

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender uses notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender uses osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier prints a message and mirrors it to the desktop when possible
type Notifier struct {
	out    io.Writer
	sender NotificationSender
}

// NewNotifier picks a sender for the current platform. Platforms without
// one only get console output.
func NewNotifier(out io.Writer) *Notifier {
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	}
	return &Notifier{out: out, sender: sender}
}

// NewNotifierWithSender is used by tests
func NewNotifierWithSender(out io.Writer, sender NotificationSender) *Notifier {
	return &Notifier{out: out, sender: sender}
}

// SendSuccess announces a finished run
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

// SendError announces a failed run
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

func (n *Notifier) send(title, message string) {
	if n.sender != nil {
		// Notifications are best effort.
		_ = n.sender.Send(title, message)
	}
}
