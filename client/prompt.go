package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompter asks for login credentials on a terminal. It backs every login
// callback left nil.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal used for hidden password input; -1 when none

	mu sync.Mutex
}

// NewPrompter reads answers from in and writes prompts to out. Passwords are
// read without echo when in is a terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &Prompter{in: bufio.NewReader(in), out: out, fd: fd}
}

// NewTerminalPrompter prompts on stderr and reads stdin.
func NewTerminalPrompter() *Prompter {
	return NewPrompter(os.Stdin, os.Stderr)
}

type answer struct {
	text string
	err  error
}

// ask prints prompt and reads one line. The read outlives a cancelled ctx,
// but its answer is discarded.
func (p *Prompter) ask(ctx context.Context, prompt string, hidden bool) (string, error) {
	done := make(chan answer, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprint(p.out, prompt)
		if hidden && p.fd >= 0 {
			b, err := term.ReadPassword(p.fd)
			fmt.Fprintln(p.out)
			done <- answer{text: string(b), err: err}
			return
		}
		line, err := p.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		done <- answer{text: strings.TrimSpace(line), err: err}
	}()
	select {
	case a := <-done:
		if a.err != nil {
			return "", fmt.Errorf("failed to read answer: %w", a.err)
		}
		return a.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func retryPrefix(retry bool) string {
	if retry {
		return "Invalid, try again. "
	}
	return ""
}

// PhoneNumber asks for the account phone number.
func (p *Prompter) PhoneNumber(ctx context.Context, retry bool) (string, error) {
	return p.ask(ctx, retryPrefix(retry)+"Enter phone number: ", false)
}

// EmailAddress asks for the login email address.
func (p *Prompter) EmailAddress(ctx context.Context, retry bool) (string, error) {
	return p.ask(ctx, retryPrefix(retry)+"Enter email address: ", false)
}

// EmailCode asks for the code sent by email.
func (p *Prompter) EmailCode(ctx context.Context, retry bool) (string, error) {
	return p.ask(ctx, retryPrefix(retry)+"Enter email code: ", false)
}

// AuthCode asks for the login code.
func (p *Prompter) AuthCode(ctx context.Context, retry bool) (string, error) {
	return p.ask(ctx, retryPrefix(retry)+"Enter code: ", false)
}

// Password asks for the two-step verification password.
func (p *Prompter) Password(ctx context.Context, hint string, retry bool) (string, error) {
	prompt := "Enter password: "
	if hint != "" {
		prompt = fmt.Sprintf("Enter password (hint: %s): ", hint)
	}
	return p.ask(ctx, retryPrefix(retry)+prompt, true)
}

// Name asks for the first and last name of a new account.
func (p *Prompter) Name(ctx context.Context, retry bool) (Name, error) {
	first, err := p.ask(ctx, retryPrefix(retry)+"Enter first name: ", false)
	if err != nil {
		return Name{}, err
	}
	last, err := p.ask(ctx, "Enter last name (optional): ", false)
	if err != nil {
		return Name{}, err
	}
	return Name{FirstName: first, LastName: last}, nil
}

// ConfirmOnAnotherDevice prints the link to open on a logged-in device.
func (p *Prompter) ConfirmOnAnotherDevice(link string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "Confirm this login link on another device: %s\n", link)
}

// BotToken asks for a bot token.
func (p *Prompter) BotToken(ctx context.Context, retry bool) (string, error) {
	return p.ask(ctx, retryPrefix(retry)+"Enter bot token: ", true)
}

// fillUserLogin returns a copy of d with nil callbacks prompting on p.
func (p *Prompter) fillUserLogin(d *UserLogin) *UserLogin {
	out := UserLogin{}
	if d != nil {
		out = *d
	}
	if out.GetPhoneNumber == nil {
		out.GetPhoneNumber = p.PhoneNumber
	}
	if out.GetEmailAddress == nil {
		out.GetEmailAddress = p.EmailAddress
	}
	if out.GetEmailCode == nil {
		out.GetEmailCode = p.EmailCode
	}
	if out.ConfirmOnAnotherDevice == nil {
		out.ConfirmOnAnotherDevice = p.ConfirmOnAnotherDevice
	}
	if out.GetAuthCode == nil {
		out.GetAuthCode = p.AuthCode
	}
	if out.GetPassword == nil {
		out.GetPassword = p.Password
	}
	if out.GetName == nil {
		out.GetName = p.Name
	}
	return &out
}
