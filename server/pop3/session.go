package pop3

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/maildrop"
	"github.com/dunlinmail/dunlin/pkg/metrics"
)

const maxErrorsAllowed = 3          // Errors tolerated before the connection is dropped
const idleTimeout = 5 * time.Minute // RFC 1939 requires at least a 10 minute timer; we are stricter

// errorDelay throttles clients after each error to slow down credential
// guessing. Variable so tests can zero it.
var errorDelay = 3 * time.Second

// clientConn is one POP3 connection: reader/writer plus the maildrop session
// behind it.
type clientConn struct {
	server  *Server
	conn    net.Conn
	session *maildrop.Session
	banner  string

	errorsCount int
}

func (c *clientConn) handle(ctx context.Context) {
	defer c.conn.Close()
	defer c.session.Logout(ctx)

	remoteIP, _, _ := net.SplitHostPort(c.conn.RemoteAddr().String())
	log := logger.With("remote_ip", remoteIP, "proto", "pop3")
	log.Debug("connected")

	reader := bufio.NewReader(c.conn)
	writer := bufio.NewWriter(c.conn)

	writeLine(writer, "+OK POP3 server ready "+c.banner)
	writer.Flush()

	var pendingUser string

	for {
		c.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				writeLine(writer, "-ERR Connection timed out due to inactivity")
				writer.Flush()
				log.Debug("timed out")
			} else if err == io.EOF {
				log.Debug("client dropped connection")
			} else {
				log.Debug("read error", "error", err)
			}
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToUpper(parts[0])
		args := parts[1:]

		switch cmd {
		case "CAPA":
			writeLine(writer, "+OK Capability list follows")
			writeLine(writer, "USER")
			writeLine(writer, "UIDL")
			writeLine(writer, "IMPLEMENTATION dunlin")
			writeLine(writer, ".")

		case "USER":
			if c.session.Authenticated() {
				if c.failCommand(writer, cmd, "Already authenticated") {
					return
				}
				continue
			}
			if len(args) < 1 {
				if c.failCommand(writer, cmd, "Missing username") {
					return
				}
				continue
			}
			pendingUser = args[0]
			c.okCommand(writer, cmd, "User accepted")

		case "PASS":
			if c.session.Authenticated() {
				if c.failCommand(writer, cmd, "Already authenticated") {
					return
				}
				continue
			}
			if pendingUser == "" {
				if c.failCommand(writer, cmd, "Must provide USER first") {
					return
				}
				continue
			}
			if len(args) < 1 {
				if c.failCommand(writer, cmd, "Missing password") {
					return
				}
				continue
			}
			if !c.login(ctx, writer, cmd, pendingUser, args[0], remoteIP, "") {
				return
			}

		case "APOP":
			if c.session.Authenticated() {
				if c.failCommand(writer, cmd, "Already authenticated") {
					return
				}
				continue
			}
			if len(args) < 2 {
				if c.failCommand(writer, cmd, "Usage: APOP name digest") {
					return
				}
				continue
			}
			if !c.login(ctx, writer, cmd, args[0], args[1], remoteIP, c.banner) {
				return
			}

		case "STAT":
			count, size, err := c.session.Stat(ctx)
			if err != nil {
				if c.failError(writer, cmd, err) {
					return
				}
				continue
			}
			c.okCommand(writer, cmd, fmt.Sprintf("%d %d", count, size))

		case "LIST":
			if len(args) > 0 {
				seq, ok := parseSeq(args[0])
				if !ok {
					if c.failCommand(writer, cmd, "Invalid message number") {
						return
					}
					continue
				}
				entry, err := c.session.List(ctx, seq)
				if err != nil {
					if c.failError(writer, cmd, err) {
						return
					}
					continue
				}
				c.okCommand(writer, cmd, fmt.Sprintf("%d %d", entry.Seq, entry.Size))
				continue
			}
			entries, err := c.session.ListAll(ctx)
			if err != nil {
				if c.failError(writer, cmd, err) {
					return
				}
				continue
			}
			writeLine(writer, fmt.Sprintf("+OK %d messages (%d octets)", len(entries), totalOctets(entries)))
			for _, line := range scanListing(entries) {
				writeLine(writer, line)
			}
			writeLine(writer, ".")
			metrics.CommandsTotal.WithLabelValues(cmd, "ok").Inc()

		case "UIDL":
			if len(args) > 0 {
				seq, ok := parseSeq(args[0])
				if !ok {
					if c.failCommand(writer, cmd, "Invalid message number") {
						return
					}
					continue
				}
				entry, err := c.session.List(ctx, seq)
				if err != nil {
					if c.failError(writer, cmd, err) {
						return
					}
					continue
				}
				c.okCommand(writer, cmd, fmt.Sprintf("%d %s", entry.Seq, entry.Checksum))
				continue
			}
			entries, err := c.session.ListAll(ctx)
			if err != nil {
				if c.failError(writer, cmd, err) {
					return
				}
				continue
			}
			writeLine(writer, "+OK unique-id listing follows")
			for _, line := range uidlListing(entries) {
				writeLine(writer, line)
			}
			writeLine(writer, ".")
			metrics.CommandsTotal.WithLabelValues(cmd, "ok").Inc()

		case "RETR":
			seq, ok := parseSeqArg(args)
			if !ok {
				if c.failCommand(writer, cmd, "Invalid message number") {
					return
				}
				continue
			}
			body, err := c.session.Retrieve(ctx, seq)
			if err != nil {
				if c.failError(writer, cmd, err) {
					return
				}
				continue
			}
			writeLine(writer, fmt.Sprintf("+OK %d octets", len(body)))
			writeDotStuffed(writer, body)
			writeLine(writer, ".")
			metrics.CommandsTotal.WithLabelValues(cmd, "ok").Inc()

		case "DELE":
			seq, ok := parseSeqArg(args)
			if !ok {
				if c.failCommand(writer, cmd, "Invalid message number") {
					return
				}
				continue
			}
			if _, err := c.session.MarkDeleted(ctx, seq); err != nil {
				if c.failError(writer, cmd, err) {
					return
				}
				continue
			}
			c.okCommand(writer, cmd, fmt.Sprintf("Message %d deleted", seq))

		case "RSET":
			if err := c.session.ResetDeleted(ctx); err != nil {
				if c.failError(writer, cmd, err) {
					return
				}
				continue
			}
			c.okCommand(writer, cmd, "")

		case "NOOP":
			c.okCommand(writer, cmd, "")

		case "QUIT":
			if c.session.Authenticated() {
				if _, err := c.session.CommitDelete(ctx); err != nil {
					log.Error("delete commit failed", "user", c.session.Identity(), "error", err)
					writeLine(writer, "-ERR Some deleted messages were not removed")
					writer.Flush()
					return
				}
			}
			c.okCommand(writer, cmd, "Goodbye")
			writer.Flush()
			return

		default:
			if c.failCommand(writer, cmd, "Unknown command: "+cmd) {
				return
			}
		}
		writer.Flush()
	}
}

// login runs the maildrop login and immediately lists the maildrop so that
// STAT/RETR/DELE work without the client issuing LIST first. Returns false
// when the connection should be dropped.
func (c *clientConn) login(ctx context.Context, writer *bufio.Writer, cmd, username, password, remoteIP, timestamp string) bool {
	if err := c.session.Login(ctx, username, password, remoteIP, timestamp); err != nil {
		return !c.failError(writer, cmd, err)
	}
	if _, err := c.session.ListAll(ctx); err != nil {
		logger.Error("initial listing failed", "user", username, "error", err)
		c.session.Logout(ctx)
		writeLine(writer, "-ERR Internal server error")
		writer.Flush()
		return false
	}
	c.okCommand(writer, cmd, "Maildrop locked and ready")
	return true
}

func (c *clientConn) okCommand(writer *bufio.Writer, cmd, msg string) {
	metrics.CommandsTotal.WithLabelValues(cmd, "ok").Inc()
	if msg == "" {
		writeLine(writer, "+OK")
	} else {
		writeLine(writer, "+OK "+msg)
	}
	writer.Flush()
}

// failCommand reports a client error and throttles repeat offenders. It
// returns true when the connection should be dropped.
func (c *clientConn) failCommand(writer *bufio.Writer, cmd, msg string) bool {
	metrics.CommandsTotal.WithLabelValues(cmd, "err").Inc()
	c.errorsCount++
	if c.errorsCount > maxErrorsAllowed {
		writeLine(writer, "-ERR Too many errors, closing connection")
		writer.Flush()
		return true
	}
	time.Sleep(time.Duration(c.errorsCount) * errorDelay)
	writeLine(writer, "-ERR "+msg)
	writer.Flush()
	return false
}

func (c *clientConn) failError(writer *bufio.Writer, cmd string, err error) bool {
	return c.failCommand(writer, cmd, responseText(err))
}

// responseText translates maildrop errors into client-facing -ERR text.
// Backend failures are masked as internal errors and logged.
func responseText(err error) string {
	switch {
	case errors.Is(err, consts.ErrMailboxInUse):
		return consts.ErrMailboxInUse.Error()
	case errors.Is(err, consts.ErrInvalidCredentials):
		return "Authentication failed"
	case errors.Is(err, consts.ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, consts.ErrNotListed), errors.Is(err, consts.ErrSequenceNotFound):
		return "No such message"
	case errors.Is(err, consts.ErrMessageGone):
		return "Message no longer available"
	case errors.Is(err, consts.ErrNoSuchInbox):
		return "Authentication failed"
	default:
		logger.Error("internal error", "error", err)
		return "Internal server error"
	}
}

func parseSeq(arg string) (int, bool) {
	seq, err := strconv.Atoi(arg)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

func parseSeqArg(args []string) (int, bool) {
	if len(args) < 1 {
		return 0, false
	}
	return parseSeq(args[0])
}
