// Package rotctld serves the hamlib network rotator protocol so that
// tracking software (gpredict, rotctl) can drive the rotor.
package rotctld

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/logic/motion"
)

// hamlib report codes
const (
	rprtOK      = 0
	rprtInvalid = -22
	rprtIO      = -5
)

// hamlib move directions
const (
	dirLeft  = 8
	dirRight = 16
)

// Rotor is what the protocol drives. *control.Loop satisfies it.
type Rotor interface {
	Rotate(ctx context.Context, rotation int) error
	SetSpeed(ctx context.Context, percent int) error
	RotateTo(ctx context.Context, target float64, useOverlap, useSmoothSpeed bool) error
	Status() motion.State
}

// Options tune the protocol replies.
type Options struct {
	MaxAngle    float64
	SmoothSpeed bool   // ramp set_pos moves
	Model       string // reported by get_info and dump_caps
}

// Server accepts rotctld clients.
type Server struct {
	rotor Rotor
	opts  Options

	clients atomic.Int32
	wg      sync.WaitGroup
}

func New(rotor Rotor, opts Options) *Server {
	if opts.MaxAngle <= 0 {
		opts.MaxAngle = motion.DefaultConfig().MaxAngle
	}
	if opts.Model == "" {
		opts.Model = "RotorGo"
	}
	return &Server{rotor: rotor, opts: opts}
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rotctld: listen %s: %w", addr, err)
	}
	debug.Info("rotctld listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// every open connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		debug.Verbose("rotctld: shutdown, closing socket")
		ln.Close()
	}()

	var connsMu sync.Mutex
	conns := make(map[net.Conn]struct{})
	defer func() {
		connsMu.Lock()
		for c := range conns {
			c.Close()
		}
		connsMu.Unlock()
		s.wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			debug.Warn("rotctld: failed to accept: %v", err)
			continue
		}
		connsMu.Lock()
		conns[conn] = struct{}{}
		connsMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Handle(ctx, conn)
			connsMu.Lock()
			delete(conns, conn)
			connsMu.Unlock()
		}()
	}
}

type remoteAddr interface {
	RemoteAddr() net.Addr
}

func peer(rw io.ReadWriter) string {
	if ra, ok := rw.(remoteAddr); ok {
		return ra.RemoteAddr().String()
	}
	return "client"
}

// Handle serves one connection until it is closed.
func (s *Server) Handle(ctx context.Context, rw io.ReadWriteCloser) {
	defer rw.Close()
	n := s.clients.Add(1)
	defer s.clients.Add(-1)

	who := peer(rw)
	debug.Info("[rotctld] accepted connection from %s (%d open)", who, n)

	scanner := bufio.NewScanner(rw)
	w := bufio.NewWriter(rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "q" || line == `+\quit` {
			return
		}
		s.Execute(ctx, w, line)
		if err := w.Flush(); err != nil {
			debug.Verbose("[rotctld] write to %s: %v", who, err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		debug.Verbose("[rotctld] reading from %s: %v", who, err)
	}
	debug.Info("[rotctld] %s disconnected", who)
}

// command is a parsed request line. Two forms exist: a single character
// with optional arguments, or "+\" followed by the long command name.
type command struct {
	name     string
	args     []string
	extended bool
}

func parse(line string) command {
	if len(line) > 2 && line[:2] == `+\` {
		parts := strings.Fields(line[2:])
		return command{name: parts[0], args: parts[1:], extended: true}
	}
	// Space after a short command is optional.
	return command{name: line[:1], args: strings.Fields(line[1:])}
}

// Execute runs one request line and writes the reply to w.
func (s *Server) Execute(ctx context.Context, w io.Writer, line string) {
	cmd := parse(line)
	debug.Verbose("[rotctld] command %q args %q", cmd.name, cmd.args)
	if cmd.extended {
		fmt.Fprintf(w, "%s:\n", cmd.name)
	}

	rprt := rprtInvalid
	switch cmd.name {
	case "1", "dump_caps":
		fmt.Fprintf(w, "Model name: %s\n", s.opts.Model)
		fmt.Fprintf(w, "Rot type: Az\n")
		fmt.Fprintf(w, "Min Azimuth: 0.00\n")
		fmt.Fprintf(w, "Max Azimuth: %.2f\n", s.opts.MaxAngle)
		fmt.Fprintf(w, "Min Elevation: 0.00\n")
		fmt.Fprintf(w, "Max Elevation: 0.00\n")
		fmt.Fprintf(w, "Can set Position: Y\nCan get Position: Y\nCan Stop: Y\nCan Park: N\nCan Reset: N\nCan Move: Y\nCan get Info: Y\n")
		rprt = rprtOK
	case "_", "get_info":
		fmt.Fprintf(w, "%s\n", s.opts.Model)
		rprt = rprtOK
	case "p", "get_pos":
		st := s.rotor.Status()
		if cmd.extended {
			fmt.Fprintf(w, "Azimuth: %.6f\nElevation: %.6f\n", st.Angle, 0.0)
		} else {
			fmt.Fprintf(w, "%.6f\n%.6f\n", st.Angle, 0.0)
		}
		rprt = rprtOK
	case "S", "stop":
		cmd.extended = true // always print RPRT
		rprt = report(s.rotor.Rotate(ctx, 0))
	case "P", "set_pos":
		cmd.extended = true
		rprt = s.setPos(ctx, cmd.args)
	case "M", "move":
		cmd.extended = true
		rprt = s.move(ctx, cmd.args)
	}
	if cmd.extended || rprt != rprtOK {
		fmt.Fprintf(w, "RPRT %d\n", rprt)
	}
}

func (s *Server) setPos(ctx context.Context, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		return rprtInvalid
	}
	az, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return rprtInvalid
	}
	// Elevation is accepted and ignored.
	if len(args) == 2 {
		if _, err := strconv.ParseFloat(args[1], 64); err != nil {
			return rprtInvalid
		}
	}
	if az < 0 {
		az += 360
	}
	err = s.rotor.RotateTo(ctx, az, true, s.opts.SmoothSpeed)
	if errors.Is(err, motion.ErrTargetTooClose) {
		return rprtOK
	}
	return report(err)
}

func (s *Server) move(ctx context.Context, args []string) int {
	if len(args) != 2 {
		return rprtInvalid
	}
	dir, err := strconv.Atoi(args[0])
	if err != nil {
		return rprtInvalid
	}
	speed, err := strconv.Atoi(args[1])
	if err != nil {
		return rprtInvalid
	}
	var rotation int
	switch dir {
	case dirLeft:
		rotation = -1
	case dirRight:
		rotation = 1
	default:
		return rprtInvalid
	}
	// A negative speed keeps the current one.
	if speed >= 0 {
		if speed > 100 {
			speed = 100
		}
		if err := s.rotor.SetSpeed(ctx, speed); err != nil {
			return report(err)
		}
	}
	return report(s.rotor.Rotate(ctx, rotation))
}

func report(err error) int {
	switch {
	case err == nil:
		return rprtOK
	case errors.Is(err, motion.ErrInvalidTarget):
		return rprtInvalid
	default:
		debug.Warn("[rotctld] %v", err)
		return rprtIO
	}
}
