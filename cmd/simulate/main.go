// Command simulate drives a bus along a route file, streaming
// location_update frames to a running tracker as an operator would.
//
//	simulate --route route.json --user driver-1 --url ws://localhost:8080/ws
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/schoolbus-tracker/logging"
	"github.com/wricardo/schoolbus-tracker/tracker/protocol"
	"github.com/wricardo/schoolbus-tracker/transport/websocket"
	"go.uber.org/zap"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Stream simulated bus positions to a tracker",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:8080/ws", Usage: "Tracker websocket URL"},
			&cli.StringFlag{Name: "user", Usage: "Operator user id", Required: true},
			&cli.StringFlag{Name: "token", Usage: "Signed token, when the tracker requires one"},
			&cli.StringFlag{Name: "route", Usage: "Route JSON file", Required: true},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "Delay between updates"},
			&cli.IntFlag{Name: "steps", Value: 10, Usage: "Positions per route segment"},
			&cli.BoolFlag{Name: "loop", Usage: "Restart the route when it ends"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	env := "production"
	if cmd.Bool("debug") {
		env = "development"
	}
	logger, err := logging.New(logging.Config{Environment: env, ServiceName: "simulate"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	route, err := LoadRoute(cmd.String("route"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := websocket.Dial(ctx, cmd.String("url"), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ack, err := conn.Authenticate(cmd.String("user"), cmd.String("token"), 10*time.Second)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	logger.Info("authenticated", zap.String("user", ack.UserID), zap.String("role", ack.Role))

	go watchErrors(conn, logger)

	sim := &simulator{
		conn:     conn,
		route:    route,
		interval: cmd.Duration("interval"),
		steps:    int(cmd.Int("steps")),
		loop:     cmd.Bool("loop"),
		logger:   logger,
	}
	sent, err := sim.Run(ctx)
	logger.Info("simulation finished", zap.Int("sent", sent))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sender is the part of the websocket client the simulator writes to.
type sender interface {
	Send(typ string, data any) error
}

type simulator struct {
	conn     sender
	route    *Route
	interval time.Duration
	steps    int
	loop     bool
	logger   *zap.Logger
}

// Run sends one location_update per interpolated position and returns the
// number of frames sent.
func (s *simulator) Run(ctx context.Context) (int, error) {
	positions := s.route.Interpolate(s.steps)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sent := 0
	var prev *Position
	for {
		for i := range positions {
			p := positions[i]
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			if sent > 0 {
				select {
				case <-ctx.Done():
					return sent, ctx.Err()
				case <-ticker.C:
				}
			}

			speed := 0.0
			if prev != nil {
				speed = distanceMeters(*prev, p) / s.interval.Seconds() * 3.6
			}
			if err := s.conn.Send(protocol.TypeLocationUpdate, s.route.Update(p, speed)); err != nil {
				return sent, fmt.Errorf("send location update: %w", err)
			}
			sent++
			prev = &p

			s.logger.Debug("location sent",
				zap.Int64("bus", s.route.BusID),
				zap.Float64("lat", p.Latitude),
				zap.Float64("lon", p.Longitude),
				zap.Float64("speed", speed),
			)
		}
		if !s.loop {
			return sent, nil
		}
		prev = nil
	}
}

// watchErrors logs error frames sent back by the tracker until the
// connection closes.
func watchErrors(conn *websocket.Conn, logger *zap.Logger) {
	for {
		env, err := conn.Next(time.Hour)
		if err != nil {
			return
		}
		if env.Type == protocol.TypeError {
			logger.Warn("tracker rejected frame", zap.String("code", string(env.Code)), zap.String("message", env.Message))
		}
	}
}
