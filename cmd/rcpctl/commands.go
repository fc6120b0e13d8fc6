package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/rcpctl/internal/client"
	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"golang.org/x/sync/errgroup"
)

var errReplyTimeout = errors.New("timed out waiting for reply")

func dispatch(ctx context.Context, c *client.Client, timeout time.Duration, name string, args []string) error {
	switch name {
	case "ping":
		return echo(ctx, c, timeout, protocol.CmdPing, c.Ping)
	case "heartbeat":
		return echo(ctx, c, timeout, protocol.CmdHeartbeat, c.Heartbeat)
	case "subscribe":
		if len(args) == 0 {
			return errors.New("subscribe: at least one service name required")
		}
		for _, svc := range args {
			if err := subscribeAndWait(ctx, c, timeout, svc); err != nil {
				return err
			}
			fmt.Printf("subscribed %s\n", svc)
		}
		return nil
	case "launch":
		if len(args) == 0 {
			return errors.New("launch: application path required")
		}
		cmd := schema.LaunchAppCommand{ApplicationPath: args[0]}
		if len(args) > 1 {
			joined := strings.Join(args[1:], " ")
			cmd.Args = &joined
		}
		if err := c.LaunchApp(cmd); err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		if err := awaitAck(ctx, c, timeout, args[0]); err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		fmt.Printf("launched %s\n", args[0])
		return nil
	case "clipboard":
		if len(args) == 0 {
			return errors.New("clipboard: text required")
		}
		if err := subscribeAndWait(ctx, c, timeout, protocol.ServiceClipboard); err != nil {
			return err
		}
		return c.Clipboard().SendText(strings.Join(args, " "))
	case "key":
		if len(args) != 1 {
			return errors.New("key: exactly one key code required")
		}
		code, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("key: %w", err)
		}
		if err := subscribeAndWait(ctx, c, timeout, protocol.ServiceInput); err != nil {
			return err
		}
		if err := c.Input().SendKey(uint16(code), true); err != nil {
			return err
		}
		return c.Input().SendKey(uint16(code), false)
	case "watch":
		return watch(ctx, c, timeout, args)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func subscribeAndWait(ctx context.Context, c *client.Client, timeout time.Duration, svc string) error {
	if c.Subscriptions()[svc] {
		return nil
	}
	if err := c.Subscribe(svc); err != nil {
		return fmt.Errorf("subscribe %s: %w", svc, err)
	}
	if err := awaitAck(ctx, c, timeout, svc); err != nil {
		return fmt.Errorf("subscribe %s: %w", svc, err)
	}
	return nil
}

func echo(ctx context.Context, c *client.Client, timeout time.Duration, cmd protocol.Command, send func() error) error {
	start := time.Now()
	if err := send(); err != nil {
		return err
	}
	err := waitFor(ctx, c, timeout, func(ev client.Event) bool {
		return ev.Kind == client.EventFrame && ev.Frame.Command() == cmd
	})
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.String(), err)
	}
	fmt.Printf("%s reply in %s\n", cmd.String(), time.Since(start).Round(time.Microsecond))
	return nil
}

func awaitAck(ctx context.Context, c *client.Client, timeout time.Duration, name string) error {
	return waitFor(ctx, c, timeout, func(ev client.Event) bool {
		return ev.Kind == client.EventFrame &&
			ev.Frame.Command() == protocol.CmdAck &&
			string(ev.Frame.Payload) == name
	})
}

// waitFor consumes events until match accepts one. A server Error frame or
// a dropped connection ends the wait with an error.
func waitFor(ctx context.Context, c *client.Client, timeout time.Duration, match func(client.Event) bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errReplyTimeout
		case ev := <-c.Events():
			if match(ev) {
				return nil
			}
			switch ev.Kind {
			case client.EventError:
				if ev.Reason != "" {
					return fmt.Errorf("server error: %s", ev.Reason)
				}
				return ev.Err
			case client.EventDisconnected:
				return client.ErrConnectionClosed
			}
		}
	}
}

// watch subscribes to the named services (display by default) and prints
// every frame until interrupted, sending heartbeats in the background.
func watch(ctx context.Context, c *client.Client, timeout time.Duration, services []string) error {
	if len(services) == 0 {
		services = []string{protocol.ServiceDisplay}
	}
	for _, svc := range services {
		if err := subscribeAndWait(ctx, c, timeout, svc); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.KeepAlive(gctx)
	})
	g.Go(func() error {
		var lost error
		err := c.Start(gctx, func(ev client.Event) {
			printEvent(c, ev)
			if ev.Kind == client.EventDisconnected {
				lost = client.ErrConnectionClosed
				cancel()
			}
		})
		if lost != nil {
			return lost
		}
		return err
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvent(c *client.Client, ev client.Event) {
	switch ev.Kind {
	case client.EventFrame:
		switch ev.Frame.Command() {
		case protocol.CmdDisplayInfo:
			if info, ok := c.Display().Info(); ok {
				fmt.Printf("display %dx%d %s q=%d\n", info.Width, info.Height, info.Format, info.Quality)
			}
		case protocol.CmdClipboardData:
			fmt.Printf("clipboard %q\n", c.Clipboard().Latest())
		default:
			fmt.Printf("frame %s (%d bytes)\n", ev.Frame.Command(), len(ev.Frame.Payload))
		}
	case client.EventError:
		fmt.Fprintf(os.Stderr, "server error: %s\n", ev.Reason)
	case client.EventStateChanged:
		fmt.Printf("state %s -> %s\n", ev.Old, ev.New)
	case client.EventDisconnected:
		fmt.Println("disconnected")
	}
}
