// Package tty adapts a real Unix terminal to back one of the kernel's simulated terminal
// devices, for interactive and demo runs. It is the out-of-scope "real hardware" side of
// machine.Terminal: reading raw keystrokes and turning them into receive interrupts, and
// draining the kernel's outbound buffer as transmit-complete interrupts.
package tty

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/smoynes/yalnix/internal/kernel"
	"github.com/smoynes/yalnix/internal/machine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Console is a serial console for the machine simulated using Unix terminal I/O[^1]. It adapts
// one of the kernel's terminal devices for use on contemporary systems[^2].
//
// Keys pressed on the console are assembled into a line and delivered to the kernel as a
// TrapTTYReceive interrupt. Likewise, bytes the kernel transmits on the device are written to the
// real terminal, one chunk per simulated TrapTTYTransmit interrupt.
//
// [1]: See: tty(4), termios(4).
// [2]: These systems, themselves, emulating electromechanical teletype devices, of course.
type Console struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State

	k  *kernel.Kernel
	id int

	keyCh chan byte
	line  []byte
}

// ErrNoTTY is returned if standard input is not a terminal. In this case, asynchronous I/O is
// not supported by the console.
var ErrNoTTY error = errors.New("console: not a TTY")

// ConsoleContext creates a Console bound to terminal id of k, using the standard streams.
// Calling cancel restores the terminal state and stops the console's goroutines.
func ConsoleContext(parent context.Context, k *kernel.Kernel, id int) (
	context.Context, *Console, context.CancelFunc,
) {
	ctx, cause := context.WithCancelCause(parent)

	console, err := NewConsole(os.Stdin, os.Stdout, os.Stderr, k, id)
	if err != nil {
		cause(err)

		return ctx, console, func() { cause(err) }
	}

	go console.readTerminal(ctx, cause)
	go console.feedKernel(ctx, cause)

	return ctx, console, func() { cause(nil); console.Restore() }
}

// NewConsole creates a Console using the provided streams, bound to terminal id of k. If the
// input stream is not a terminal, ErrNoTTY is returned. Callers are responsible for calling
// [Console.Restore] to return the terminal to its initial state.
//
// The kernel's terminal device is pointed at the console's output immediately: anything the
// kernel transmits on id is written to the terminal behind sin once [Console.Drain] is pumped.
// The console writes through the same terminal it reads from; sout and serr are not used.
func NewConsole(sin, sout, serr *os.File, k *kernel.Kernel, id int) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	cons := &Console{
		fd:    fd,
		in:    sin,
		out:   term.NewTerminal(sin, ""),
		state: saved,
		k:     k,
		id:    id,
		keyCh: make(chan byte, 1),
	}

	if err := cons.setTerminalParams(1, 0); err != nil {
		return nil, err
	}

	if terms := k.Machine().Terminals; id >= 0 && id < len(terms) {
		terms[id].SetOutput(cons.out)
	}

	return cons, nil
}

// Writer returns an io.Writer that writes to the terminal, bypassing the kernel.
func (c *Console) Writer() io.Writer {
	return c.out
}

// Restore returns the terminal to its initial state and cancels in-progress reads.
func (c *Console) Restore() {
	_ = os.Stdin.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

// Drain dispatches TrapTTYTransmit against k until the console's terminal is no longer busy. A
// real UART raises one transmit-complete interrupt per chunk; here, since Transmit is
// synchronous, Drain simply repeats the dispatch until the kernel reports the write done.
func (c *Console) Drain(dummy *machine.UserContext) {
	for c.k.TTY().Busy(c.id) {
		c.k.DispatchTrap(machine.TrapTTYTransmit, dummy, c.id)
	}
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = os.Stdin.SetReadDeadline(time.Time{})

	return nil
}

// readTerminal reads bytes from the terminal and writes them to the key channel until the context
// is cancelled. If reading from the terminal fails, the cancel is called.
func (c *Console) readTerminal(ctx context.Context, cancel context.CancelCauseFunc) {
	buf := bufio.NewReader(c.in)

	// Make terminal input block on reads.
	_ = syscall.SetNonblock(c.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			cancel(err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case c.keyCh <- b:
		}
	}
}

// feedKernel assembles bytes from the key channel into a line and, on a line terminator,
// stages the line with the kernel and dispatches TrapTTYReceive. The function blocks until the
// context is cancelled.
func (c *Console) feedKernel(ctx context.Context, cancel context.CancelCauseFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.keyCh:
			if _, err := fmt.Fprintf(c.out, "%c", b); err != nil {
				cancel(err)
				return
			}

			if b == '\r' || b == '\n' {
				line := c.line
				c.line = nil

				c.k.StageTTYLine(c.id, line)
				c.k.DispatchTrap(machine.TrapTTYReceive, &machine.UserContext{}, c.id)

				continue
			}

			c.line = append(c.line, b)
		}
	}
}
